// Package sync keeps attachment urls inside stored messages fresh.
package sync

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Refresher rewrites attachment urls in stored messages. It reacts to
// store.messages_changed for the conversations an event names, and rescans
// every conversation on a ticker so entries nearing expiry are refreshed
// before anyone reads them.
type Refresher struct {
	stores   map[string]*store.Store
	cache    *attach.Cache
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRefresher creates a refresher over the given domain stores.
// interval <= 0 disables the periodic rescan.
func NewRefresher(cache *attach.Cache, b *bus.Bus, interval time.Duration, logger *zap.Logger, stores ...*store.Store) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	byDomain := make(map[string]*store.Store, len(stores))
	for _, s := range stores {
		byDomain[s.Domain()] = s
	}
	return &Refresher{
		stores:   byDomain,
		cache:    cache,
		bus:      b,
		interval: interval,
		logger:   logger,
	}
}

// Start subscribes to message changes on the bus.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe(bus.KindMessagesChanged, 256)

	go func() {
		defer close(r.done)
		defer unsub()

		var tick <-chan time.Time
		if r.interval > 0 {
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case evt := <-ch:
				r.handleEvent(ctx, evt)
			case <-tick:
				r.RefreshAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the refresher and waits for its loop to exit.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Refresher) handleEvent(ctx context.Context, evt bus.Event) {
	s, ok := r.stores[evt.Domain]
	if !ok {
		return
	}
	change, ok := evt.Payload.(store.Change)
	if !ok {
		return
	}
	for _, conv := range change.ConversationIDs {
		r.RefreshConversation(ctx, s, conv)
	}
}

// RefreshAll rescans every conversation of every store.
func (r *Refresher) RefreshAll(ctx context.Context) int {
	total := 0
	for _, s := range r.stores {
		total += r.refresh(ctx, s, s.AllMessages())
	}
	return total
}

// RefreshConversation refreshes one conversation and returns how many
// messages were rewritten.
func (r *Refresher) RefreshConversation(ctx context.Context, s *store.Store, conversationID string) int {
	return r.refresh(ctx, s, s.Messages(conversationID))
}

func (r *Refresher) refresh(ctx context.Context, s *store.Store, msgs []store.Message) int {
	changed := r.cache.LoadFilesForMessages(ctx, msgs)
	if len(changed) == 0 {
		return 0
	}
	before := make(map[string]string, len(msgs))
	for _, m := range msgs {
		before[m.ID] = m.Content
	}
	n := 0
	for _, m := range changed {
		// A concurrent edit wins; the next change event rescans it.
		if s.SwapMessageContent(m.ID, before[m.ID], m.Content) {
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("attachment urls refreshed", zap.String("domain", s.Domain()), zap.Int("messages", n))
	}
	return n
}
