package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paytrack/internal/log"
)

var (
	ErrNoCredentials = errors.New("vision credentials not configured")
	ErrEmptyFile     = errors.New("empty file data")
)

// TextRecognizer turns an image or document into raw text.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Analysis is the bridge's response shape. Amount is nil when nothing
// plausible was found.
type Analysis struct {
	Text      string   `json:"text"`
	Amount    *float64 `json:"amount"`
	IsPayment bool     `json:"isPayment"`
}

var paymentVocabulary = []string{
	"paid", "payment", "transaction", "upi", "credited", "debited", "transfer", "txn", "receipt",
}

// Bridge runs the vision collaborator and the amount heuristic. It never
// fails: submission must work even when proof analysis does not.
type Bridge struct {
	recognizer TextRecognizer
	extractor  *Extractor
	logger     *log.Logger
}

func NewBridge(recognizer TextRecognizer, extractor *Extractor, logger *log.Logger) *Bridge {
	if extractor == nil {
		extractor = DefaultExtractor
	}
	if logger == nil {
		logger = log.Default(log.ComponentOCR)
	}
	return &Bridge{recognizer: recognizer, extractor: extractor, logger: logger.WithComponent(log.ComponentOCR)}
}

// Analyze decodes fileData (a data URL or bare base64), asks the recognizer for
// text and extracts an amount from it.
func (b *Bridge) Analyze(ctx context.Context, fileData string) Analysis {
	if b == nil {
		return Analysis{}
	}
	if b.recognizer == nil {
		b.logger.WarnContext(ctx, "OCR requested without a vision backend", log.FieldError, ErrNoCredentials)
		return Analysis{}
	}

	mimeType, data, err := DecodeFileData(fileData)
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to decode proof file", log.FieldError, err)
		return Analysis{}
	}

	text, err := b.recognizer.RecognizeText(ctx, mimeType, data)
	if err != nil {
		b.logger.ErrorContext(ctx, "Vision request failed", log.FieldError, err, "mime_type", mimeType, "size", len(data))
		return Analysis{}
	}
	return b.AnalyzeText(text)
}

// AnalyzeText applies the amount heuristic to text already recognized.
func (b *Bridge) AnalyzeText(text string) Analysis {
	text = strings.TrimSpace(text)
	out := Analysis{Text: text}
	if text == "" {
		return out
	}
	if v, ok := b.extractor.Extract(text); ok {
		out.Amount = &v
		out.IsPayment = true
		return out
	}
	lower := strings.ToLower(text)
	for _, w := range paymentVocabulary {
		if strings.Contains(lower, w) {
			out.IsPayment = true
			break
		}
	}
	return out
}

// DecodeFileData accepts "data:<mime>;base64,<payload>" or a bare base64
// payload, in which case the type is sniffed.
func DecodeFileData(fileData string) (string, []byte, error) {
	fileData = strings.TrimSpace(fileData)
	if fileData == "" {
		return "", nil, ErrEmptyFile
	}

	mimeType := ""
	payload := fileData
	if strings.HasPrefix(fileData, "data:") {
		header, rest, ok := strings.Cut(fileData, ",")
		if !ok {
			return "", nil, errors.New("malformed data URL")
		}
		header = strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, errors.New("data URL is not base64 encoded")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		payload = rest
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return "", nil, fmt.Errorf("decode base64: %w", err)
		}
	}
	if len(data) == 0 {
		return "", nil, ErrEmptyFile
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	return mimeType, data, nil
}
