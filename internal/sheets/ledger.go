// Package sheets exports approved payments to a Google Sheets ledger, one
// sheet per approval year.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"paytrack/internal/core"
	"paytrack/internal/log"
)

const DefaultSheetBase = "Ledger"

var ErrNoSpreadsheet = errors.New("missing GOOGLE_SPREADSHEET_ID")

// ledgerHeader is written when a year's sheet is created.
var ledgerHeader = []any{"Payment ID", "Client", "Approved", "Month", "Amount", "Description", "Submitted"}

// Ledger appends approved payments to "<year> <base>" sheets.
type Ledger struct {
	svc           *gsheet.Service
	spreadsheetID string
	base          string
	logger        *log.Logger

	mu     sync.Mutex
	sheets map[string]bool
}

// NewLedger authenticates with the service account from the environment.
func NewLedger(ctx context.Context, spreadsheetID, sheetBase string, logger *log.Logger) (*Ledger, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, ErrNoSpreadsheet
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewLedgerWithService(svc, spreadsheetID, sheetBase, logger), nil
}

func NewLedgerWithService(svc *gsheet.Service, spreadsheetID, sheetBase string, logger *log.Logger) *Ledger {
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = DefaultSheetBase
	}
	if logger == nil {
		logger = log.Default(log.ComponentSheets)
	}
	return &Ledger{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		base:          strings.TrimSpace(sheetBase),
		logger:        logger.WithComponent(log.ComponentSheets),
		sheets:        map[string]bool{},
	}
}

// newSheetsService uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE
// or GOOGLE_APPLICATION_CREDENTIALS, in that order.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var creds []byte
	switch {
	case inline != "":
		creds = []byte(inline)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// SheetName returns the sheet holding payments approved in year.
func (l *Ledger) SheetName(year int) string {
	return yearPrefixedName(l.base, year)
}

// LedgerYear is the year whose sheet records p.
func LedgerYear(p core.Payment) int {
	if p.ApprovedAt != nil && !p.ApprovedAt.IsZero() {
		return p.ApprovedAt.UTC().Year()
	}
	return p.SubmittedAt.UTC().Year()
}

// AppendPayment writes one row for an approved payment and returns the
// updated range.
func (l *Ledger) AppendPayment(ctx context.Context, p core.Payment) (string, error) {
	if p.Status != core.StatusApproved {
		return "", fmt.Errorf("append payment %s: %w", p.ID, core.ErrInvalidStatus)
	}
	sheet := l.SheetName(LedgerYear(p))
	if err := l.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	vr := &gsheet.ValueRange{Values: [][]any{ledgerRow(p)}}
	resp, err := l.svc.Spreadsheets.Values.Append(l.spreadsheetID, sheet+"!A:G", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	l.logger.InfoContext(ctx, "Payment appended to ledger",
		log.FieldPaymentID, p.ID, log.FieldClientID, p.ClientID, log.FieldSheetsRef, ref)
	return ref, nil
}

// RecordedIDs returns the payment ids already present in year's sheet. A
// sheet that does not exist yet has none.
func (l *Ledger) RecordedIDs(ctx context.Context, year int) (map[string]bool, error) {
	sheet := l.SheetName(year)
	exists, err := l.sheetExists(ctx, sheet)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	if !exists {
		return out, nil
	}

	resp, err := l.svc.Spreadsheets.Values.Get(l.spreadsheetID, sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || (i == 0 && id == ledgerHeader[0]) {
			continue
		}
		out[id] = true
	}
	return out, nil
}

func (l *Ledger) ensureSheet(ctx context.Context, sheet string) error {
	exists, err := l.sheetExists(ctx, sheet)
	if err != nil || exists {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
	}}}
	if _, err := l.svc.Spreadsheets.BatchUpdate(l.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	header := &gsheet.ValueRange{Values: [][]any{ledgerHeader}}
	if _, err := l.svc.Spreadsheets.Values.Append(l.spreadsheetID, sheet+"!A1:G1", header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header to %s: %w", sheet, err)
	}

	l.mu.Lock()
	l.sheets[sheet] = true
	l.mu.Unlock()
	l.logger.InfoContext(ctx, "Created ledger sheet", "sheet", sheet)
	return nil
}

func (l *Ledger) sheetExists(ctx context.Context, sheet string) (bool, error) {
	l.mu.Lock()
	known := l.sheets[sheet]
	l.mu.Unlock()
	if known {
		return true, nil
	}

	ss, err := l.svc.Spreadsheets.Get(l.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read spreadsheet: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			l.sheets[s.Properties.Title] = true
		}
	}
	return l.sheets[sheet], nil
}

func ledgerRow(p core.Payment) []any {
	approved := p.SubmittedAt
	if p.ApprovedAt != nil {
		approved = *p.ApprovedAt
	}
	return []any{
		p.ID,
		p.ClientID,
		approved.UTC().Format(time.DateOnly),
		p.BucketMonth(),
		decimal.NewFromFloat(p.Amount).StringFixed(2),
		p.Description,
		p.SubmittedAt.UTC().Format(time.DateOnly),
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
