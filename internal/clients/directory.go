// Package clients is the read side of the client records written by the
// upstream provisioning system.
package clients

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"paytrack/internal/cache"
	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"
)

// Directory resolves client records through a cache. Concurrent misses for
// the same id share one store read.
type Directory struct {
	store  store.ClientStore
	cache  cache.Cache[core.Client]
	group  singleflight.Group
	logger *log.Logger
}

// NewDirectory wraps st. A nil cache disables caching.
func NewDirectory(st store.ClientStore, c cache.Cache[core.Client], logger *log.Logger) *Directory {
	if logger == nil {
		logger = log.Default(log.ComponentClients)
	}
	return &Directory{store: st, cache: c, logger: logger.WithComponent(log.ComponentClients)}
}

// GetClient returns nil, nil when no record exists. Missing records are not
// cached so a freshly provisioned client shows up on the next call.
func (d *Directory) GetClient(ctx context.Context, id string) (*core.Client, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if d.cache != nil {
		if c, ok := d.cache.Get(ctx, id); ok {
			return &c, nil
		}
	}

	v, err, _ := d.group.Do(id, func() (any, error) {
		c, err := d.store.GetClient(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil && d.cache != nil {
			d.cache.Set(ctx, id, *c)
		}
		return c, nil
	})
	if err != nil {
		d.logger.WarnContext(ctx, "Client lookup failed", log.FieldClientID, id, log.FieldError, err)
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}
	c, _ := v.(*core.Client)
	if c == nil {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (d *Directory) ListClients(ctx context.Context) ([]core.Client, error) {
	cs, err := d.store.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	if cs == nil {
		cs = []core.Client{}
	}
	return cs, nil
}

// PutClient writes through to the store and drops the cached copy.
func (d *Directory) PutClient(ctx context.Context, c core.Client) error {
	if strings.TrimSpace(c.ID) == "" {
		return core.ErrEmptyClient
	}
	if err := d.store.PutClient(ctx, c); err != nil {
		return fmt.Errorf("put client %s: %w", c.ID, err)
	}
	if d.cache != nil {
		d.cache.Delete(ctx, c.ID)
	}
	return nil
}
