// Package history pages conversation history backward and merges pages and
// live messages into the store without moving what the viewer is reading.
package history

import (
	"context"
	"sync"

	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// bottomThreshold is how close to the bottom, in pixels, still counts as
// "at the bottom" for autoscroll.
const bottomThreshold = 10

// DefaultPageSize is used when a pager is created without one.
const DefaultPageSize = 20

// Fetcher loads one page of older history.
type Fetcher interface {
	LoadHistory(ctx context.Context, conversationID string, skip, take int) ([]store.Message, error)
}

// Viewport is the scroll container showing a conversation.
type Viewport interface {
	ScrollHeight() float64
	ScrollTop() float64
	ClientHeight() float64
	SetScrollTop(v float64)
}

type convState struct {
	loading   bool
	allLoaded bool
	initial   bool
	viewport  Viewport
}

// Pager merges history pages and live messages into one store.
type Pager struct {
	store    *store.Store
	fetcher  Fetcher
	pageSize int
	logger   *zap.Logger

	mu    sync.Mutex
	convs map[string]*convState
}

// NewPager creates a pager. pageSize <= 0 selects DefaultPageSize.
func NewPager(s *store.Store, f Fetcher, pageSize int, logger *zap.Logger) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		store:    s,
		fetcher:  f,
		pageSize: pageSize,
		logger:   logger,
		convs:    make(map[string]*convState),
	}
}

// PageSize returns the page size used by LoadInitial and LoadOlder.
func (p *Pager) PageSize() int { return p.pageSize }

// state returns the conversation's state; p.mu must be held.
func (p *Pager) state(conversationID string) *convState {
	st, ok := p.convs[conversationID]
	if !ok {
		st = &convState{initial: true}
		p.convs[conversationID] = st
	}
	return st
}

// AttachViewport binds the scroll container showing a conversation.
func (p *Pager) AttachViewport(conversationID string, vp Viewport) {
	p.mu.Lock()
	p.state(conversationID).viewport = vp
	p.mu.Unlock()
}

// DetachViewport unbinds the conversation's scroll container.
func (p *Pager) DetachViewport(conversationID string) {
	p.mu.Lock()
	if st, ok := p.convs[conversationID]; ok {
		st.viewport = nil
	}
	p.mu.Unlock()
}

// Reset forgets the conversation's paging state, keeping its viewport.
func (p *Pager) Reset(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.convs[conversationID]
	if !ok {
		return
	}
	p.convs[conversationID] = &convState{initial: true, viewport: st.viewport}
}

// RenameConversation moves the paging state of oldID to newID, as when a
// direct chat follows its counterpart's rename. State already held for
// newID wins; it only inherits the viewport when it has none.
func (p *Pager) RenameConversation(oldID, newID string) {
	if oldID == "" || newID == "" || oldID == newID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.convs[oldID]
	if !ok {
		return
	}
	delete(p.convs, oldID)
	if cur, exists := p.convs[newID]; exists {
		if cur.viewport == nil {
			cur.viewport = st.viewport
		}
		return
	}
	p.convs[newID] = st
}

// AllLoaded reports whether the conversation's history is exhausted.
func (p *Pager) AllLoaded(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.convs[conversationID]
	return ok && st.allLoaded
}

// Loading reports whether a page load is in flight for the conversation.
func (p *Pager) Loading(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.convs[conversationID]
	return ok && st.loading
}

// LoadMore fetches one page of older history and merges it. It returns the
// messages actually added, or nil when a load is already in flight, the
// history is exhausted, or the fetch failed. Ids already held are never
// overwritten by a page. The viewport is shifted by the height the page
// added so the message under the viewer's eye stays put.
func (p *Pager) LoadMore(ctx context.Context, conversationID string, pageSize, skip int) []store.Message {
	p.mu.Lock()
	st := p.state(conversationID)
	if st.loading || st.allLoaded {
		p.mu.Unlock()
		return nil
	}
	st.loading = true
	vp := st.viewport
	p.mu.Unlock()

	exhausted := false
	defer func() {
		p.mu.Lock()
		st.loading = false
		if exhausted {
			st.allLoaded = true
		}
		p.mu.Unlock()
	}()

	page, err := p.fetcher.LoadHistory(ctx, conversationID, skip, pageSize)
	if err != nil {
		p.logger.Warn("history load failed",
			zap.String("conversation_id", conversationID),
			zap.Int("skip", skip),
			zap.Error(err),
		)
		exhausted = true
		return nil
	}
	if len(page) == 0 {
		exhausted = true
		return nil
	}

	// Measured after the fetch so live messages merged meanwhile do not
	// count toward the shift.
	var prevHeight float64
	if vp != nil {
		prevHeight = vp.ScrollHeight()
	}
	added := p.store.MergeMessages(page)
	if len(added) == 0 || len(page) < pageSize {
		exhausted = true
	}
	if vp != nil && len(added) > 0 {
		vp.SetScrollTop(vp.ScrollTop() + vp.ScrollHeight() - prevHeight)
	}
	p.logger.Debug("history page merged",
		zap.String("conversation_id", conversationID),
		zap.Int("fetched", len(page)),
		zap.Int("added", len(added)),
		zap.Bool("all_loaded", exhausted),
	)
	return added
}

// LoadOlder loads the page preceding everything held for the conversation.
func (p *Pager) LoadOlder(ctx context.Context, conversationID string) []store.Message {
	return p.LoadMore(ctx, conversationID, p.pageSize, len(p.store.Messages(conversationID)))
}

// LoadInitial resets the conversation, loads its newest page and scrolls
// to the bottom.
func (p *Pager) LoadInitial(ctx context.Context, conversationID string) []store.Message {
	p.Reset(conversationID)
	added := p.LoadMore(ctx, conversationID, p.pageSize, 0)

	p.mu.Lock()
	st := p.state(conversationID)
	st.initial = false
	vp := st.viewport
	p.mu.Unlock()
	if vp != nil {
		scrollToBottom(vp)
	}
	return added
}

// HandleNewMessages merges live messages. The viewport follows them only
// when the viewer was at the bottom before the merge or the conversation
// has not finished its initial load.
func (p *Pager) HandleNewMessages(conversationID string, msgs []store.Message) {
	p.mu.Lock()
	st := p.state(conversationID)
	vp := st.viewport
	initial := st.initial
	p.mu.Unlock()

	following := vp != nil && atBottom(vp)
	added := p.store.MergeMessages(msgs)
	if len(added) == 0 || vp == nil {
		return
	}
	if following || initial {
		scrollToBottom(vp)
	}
	if initial {
		p.mu.Lock()
		st.initial = false
		p.mu.Unlock()
	}
}

func atBottom(vp Viewport) bool {
	return vp.ScrollHeight()-vp.ScrollTop()-vp.ClientHeight() <= bottomThreshold
}

func scrollToBottom(vp Viewport) {
	top := vp.ScrollHeight() - vp.ClientHeight()
	if top < 0 {
		top = 0
	}
	vp.SetScrollTop(top)
}
