package store

import "sync"

// ChangeFeed signals that the payment collection changed. Signals are
// coalesced: a subscriber that is slow to drain sees one pending signal, not
// one per write.
type ChangeFeed interface {
	// Changes returns nil for polled feeds; a nil channel never fires.
	Changes() <-chan struct{}
	Close() error
}

// PolledFeed is the feed of backends without push capability. Callers refresh
// on their own cadence.
type PolledFeed struct{}

func (PolledFeed) Changes() <-chan struct{} { return nil }
func (PolledFeed) Close() error             { return nil }

// IsPush reports whether f delivers change signals on its own.
func IsPush(f ChangeFeed) bool {
	return f != nil && f.Changes() != nil
}

// Broadcaster fans one change signal out to every open push feed.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*pushFeed]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*pushFeed]struct{})}
}

func (b *Broadcaster) Subscribe() ChangeFeed {
	f := &pushFeed{ch: make(chan struct{}, 1), parent: b}
	b.mu.Lock()
	b.subs[f] = struct{}{}
	b.mu.Unlock()
	return f
}

// Notify never blocks.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.subs {
		select {
		case f.ch <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of open feeds.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// CloseAll closes every open feed.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.subs {
		close(f.ch)
		delete(b.subs, f)
	}
}

type pushFeed struct {
	ch     chan struct{}
	parent *Broadcaster
}

func (f *pushFeed) Changes() <-chan struct{} { return f.ch }

func (f *pushFeed) Close() error {
	b := f.parent
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[f]; ok {
		delete(b.subs, f)
		close(f.ch)
	}
	return nil
}
