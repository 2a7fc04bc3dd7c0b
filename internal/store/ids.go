package store

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalIDPrefix prefixes ids minted by the local and memory backends.
const LocalIDPrefix = "payment_"

// MillisIDs mints payment_<unix-millis> ids. Two ids minted within the same
// millisecond are bumped forward so they never collide inside one process.
type MillisIDs struct {
	mu   sync.Mutex
	last int64
	Now  func() time.Time
}

func (g *MillisIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ms := now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return LocalIDPrefix + strconv.FormatInt(ms, 10)
}

// IsLocalID reports whether id follows the payment_<digits> scheme.
func IsLocalID(id string) bool {
	rest, ok := strings.CutPrefix(id, LocalIDPrefix)
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.ParseInt(rest, 10, 64)
	return err == nil
}
