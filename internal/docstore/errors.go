package docstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"paytrack/internal/store"
)

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func hasPGClass(err error, prefix string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, prefix)
	}
	return false
}

// isConnectionError reports failures that mean the server could not be
// reached or dropped us: connection exceptions (08xxx), operator
// intervention (57Pxx), dial and network errors.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if hasPGClass(err, "08") || hasPGClass(err, "57P") {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// isUndefinedTable reports a missing relation (schema not migrated).
func isUndefinedTable(err error) bool {
	return hasPGCode(err, "42P01")
}

// wrap tags connection-class failures with store.ErrUnavailable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) || isUndefinedTable(err) {
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// unavailable wraps err with store.ErrUnavailable whatever its class.
func unavailable(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}
