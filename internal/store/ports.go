// Package store defines the persistence ports shared by every payment backend.
//
// Exactly one backend is active per process; the backend factory builds it and
// hands the same instance to the repository, the client directory and the
// notification service.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"paytrack/internal/core"
)

var (
	// ErrUnavailable marks failures caused by an unreachable or unconfigured backend.
	ErrUnavailable = errors.New("store unavailable")
	// ErrUnknownField is returned for filter fields other than clientId and status.
	ErrUnknownField = errors.New("unknown filter field")
)

// Outcome classifies a read so callers never inspect error types.
type Outcome int

const (
	OK Outcome = iota
	// IndexUnsupported means the backend refused the query shape; callers
	// fall back to a full scan.
	IndexUnsupported
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case IndexUnsupported:
		return "index_unsupported"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the explicit read result of a store call.
type Result[T any] struct {
	Data    T
	Outcome Outcome
	Err     error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Data: v, Outcome: OK}
}

func Fail[T any](o Outcome, err error) Result[T] {
	var zero T
	return Result[T]{Data: zero, Outcome: o, Err: err}
}

// Field names a filterable payment attribute.
type Field string

const (
	FieldClientID Field = "clientId"
	FieldStatus   Field = "status"
)

func (f Field) Valid() bool {
	return f == FieldClientID || f == FieldStatus
}

// Ports for persistence adapters.
type (
	// PaymentStore is the backend contract the repository is written against.
	PaymentStore interface {
		List(ctx context.Context) Result[[]core.Payment]
		// Get returns a nil Data when the id is absent.
		Get(ctx context.Context, id string) Result[*core.Payment]
		// QueryByField returns payments whose field equals value, newest first.
		QueryByField(ctx context.Context, field Field, value string) Result[[]core.Payment]
		// Put upserts by ID.
		Put(ctx context.Context, p core.Payment) error
		// Delete removes the record; an absent id is not an error.
		Delete(ctx context.Context, id string) error

		NewID() string
		OwnsID(id string) bool

		Feed(ctx context.Context) (ChangeFeed, error)
	}

	// ClientStore is the read side of the client collection written by the
	// upstream provisioning system. PutClient exists for seeding.
	ClientStore interface {
		GetClient(ctx context.Context, id string) (*core.Client, error)
		ListClients(ctx context.Context) ([]core.Client, error)
		PutClient(ctx context.Context, c core.Client) error
	}

	NotificationStore interface {
		InsertNotification(ctx context.Context, n core.Notification) error
		// ListNotifications returns the user's notifications newest first.
		ListNotifications(ctx context.Context, userID string) ([]core.Notification, error)
		// MarkNotificationRead is idempotent.
		MarkNotificationRead(ctx context.Context, id string) error
	}

	// Store is implemented by every backend.
	Store interface {
		PaymentStore
		ClientStore
		NotificationStore
		Ping(ctx context.Context) error
		Close() error
	}
)

// Matches reports whether p's field equals value.
func Matches(p core.Payment, field Field, value string) bool {
	switch field {
	case FieldClientID:
		return p.ClientID == value
	case FieldStatus:
		return string(p.Status) == value
	default:
		return false
	}
}

// Filter returns the payments matching field == value in input order.
func Filter(ps []core.Payment, field Field, value string) []core.Payment {
	out := make([]core.Payment, 0, len(ps))
	for _, p := range ps {
		if Matches(p, field, value) {
			out = append(out, p)
		}
	}
	return out
}

// SortBySubmittedDesc orders payments newest first. Ties keep input order.
func SortBySubmittedDesc(ps []core.Payment) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].SubmittedAt.After(ps[j].SubmittedAt)
	})
}
