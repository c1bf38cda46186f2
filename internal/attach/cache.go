// Package attach caches time-limited attachment download urls and keeps
// message content pointing at fresh ones.
package attach

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Resolver turns file names into download urls in one round trip. Names
// missing from the result are unresolved.
type Resolver interface {
	GetDownloadUrls(ctx context.Context, fileNames []string) ([]wire.ResolvedFile, error)
}

// Options tunes a cache. Zero values select the defaults.
type Options struct {
	Expiration      time.Duration
	ProactiveMargin time.Duration
	WaitTimeout     time.Duration
	Capacity        int
}

func (o *Options) defaults() {
	if o.Expiration == 0 {
		o.Expiration = 10 * time.Minute
	}
	if o.ProactiveMargin == 0 {
		o.ProactiveMargin = 2 * time.Minute
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = 10 * time.Second
	}
	if o.Capacity == 0 {
		o.Capacity = 4096
	}
}

// Entry is one cached url and when it was obtained.
type Entry struct {
	URL       string
	Timestamp time.Time
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Coalesced uint64
	Timeouts  uint64
	Batches   uint64
	Evictions uint64
}

// Cache maps file keys to download urls. An entry is trusted while younger
// than Expiration and becomes due for refresh ProactiveMargin earlier.
// A key is in at most one resolver call at a time; Resolve and batch
// loads asking for a key already in flight wait for that call.
type Cache struct {
	resolver Resolver
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, Entry]
	flights map[string]*flight
	stats   Stats
}

// flight is one resolver call in progress. It may cover several keys.
// urls and err are set before done is closed.
type flight struct {
	done chan struct{}
	urls map[string]string
	err  error
}

// New creates a cache backed by r.
func New(r Resolver, opts Options, logger *zap.Logger) *Cache {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		resolver: r,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		entries:  orderedmap.NewOrderedMap[string, Entry](),
		flights:  make(map[string]*flight),
	}
}

// Key returns the cache key of a file: its unique name, else its name.
func Key(fileName, uniqueFileName string) string {
	if uniqueFileName != "" {
		return uniqueFileName
	}
	return fileName
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	return now.Sub(e.Timestamp) >= c.opts.Expiration
}

func (c *Cache) dueForRefresh(e Entry, now time.Time) bool {
	return now.Sub(e.Timestamp) >= c.opts.Expiration-c.opts.ProactiveMargin
}

// get returns the entry for key and marks it recently used.
func (c *Cache) get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if ok {
		c.entries.Delete(key)
		c.entries.Set(key, e)
	}
	return e, ok
}

// set stores an entry, evicting the least recently used beyond capacity.
func (c *Cache) set(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Delete(key)
	c.entries.Set(key, e)
	for c.entries.Len() > c.opts.Capacity {
		oldest := c.entries.Front()
		c.entries.Delete(oldest.Key)
		c.stats.Evictions++
		metrics.CacheEvictions.Inc()
	}
}

func (c *Cache) count(field *uint64, result string) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
	metrics.CacheLookups.WithLabelValues(result).Inc()
}

// Lookup returns the cached url for key if it has not expired.
func (c *Cache) Lookup(key string) (string, bool) {
	e, ok := c.get(key)
	if !ok || c.expired(e, c.now()) {
		return "", false
	}
	return e.URL, true
}

// Put stores a url obtained elsewhere, stamped now.
func (c *Cache) Put(key, url string) {
	if key == "" || url == "" {
		return
	}
	c.set(key, Entry{URL: url, Timestamp: c.now()})
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	c.entries.Delete(key)
	c.mu.Unlock()
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	return s
}

// Resolve returns a fresh url for the file. When a resolution of the same
// key is already in flight the caller waits for it instead of issuing
// another; the wait gives up after WaitTimeout. ok is false when the file
// could not be resolved.
func (c *Cache) Resolve(ctx context.Context, fileName, uniqueFileName string) (url string, ok bool) {
	key := Key(fileName, uniqueFileName)
	if key == "" {
		return "", false
	}
	if e, found := c.get(key); found && !c.expired(e, c.now()) {
		c.count(&c.stats.Hits, "hit")
		return e.URL, true
	}

	f, owned, joined := c.begin([]string{key})
	if f != nil {
		c.count(&c.stats.Misses, "miss")
		go func() {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WaitTimeout)
			defer cancel()
			c.run(callCtx, f, owned)
		}()
	} else {
		f = joined[0]
		c.count(&c.stats.Coalesced, "coalesced")
	}

	timer := time.NewTimer(c.opts.WaitTimeout)
	defer timer.Stop()
	select {
	case <-f.done:
		if f.err != nil {
			return "", false
		}
		url = f.urls[key]
		return url, url != ""
	case <-timer.C:
		c.count(&c.stats.Timeouts, "timeout")
		c.logger.Warn("attachment resolution timed out", zap.String("file", key))
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// begin registers a flight for the keys not already in one. It returns the
// new flight and the keys it owns, or a nil flight when every key is
// covered, plus the distinct flights already resolving the other keys.
func (c *Cache) begin(keys []string) (own *flight, owned []string, joined []*flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if f, ok := c.flights[k]; ok {
			if !slices.Contains(joined, f) {
				joined = append(joined, f)
			}
			continue
		}
		if own == nil {
			own = &flight{done: make(chan struct{})}
		}
		c.flights[k] = own
		owned = append(owned, k)
	}
	return own, owned, joined
}

// run resolves the keys owned by f and releases its waiters.
func (c *Cache) run(ctx context.Context, f *flight, keys []string) {
	f.urls, f.err = c.resolve(ctx, keys)
	c.mu.Lock()
	for _, k := range keys {
		if c.flights[k] == f {
			delete(c.flights, k)
		}
	}
	c.mu.Unlock()
	close(f.done)
}

// wait blocks until every flight is done, WaitTimeout passes or ctx ends.
func (c *Cache) wait(ctx context.Context, flights []*flight) {
	if len(flights) == 0 {
		return
	}
	timer := time.NewTimer(c.opts.WaitTimeout)
	defer timer.Stop()
	for _, f := range flights {
		select {
		case <-f.done:
		case <-timer.C:
			c.count(&c.stats.Timeouts, "timeout")
			return
		case <-ctx.Done():
			return
		}
	}
}

// resolve performs one batch call and caches every url returned for a
// requested key. It returns the urls by key.
func (c *Cache) resolve(ctx context.Context, keys []string) (map[string]string, error) {
	c.mu.Lock()
	c.stats.Batches++
	c.mu.Unlock()
	metrics.ResolveBatches.Inc()

	files, err := c.resolver.GetDownloadUrls(ctx, keys)
	if err != nil {
		c.logger.Warn("attachment resolution failed", zap.Strings("files", keys), zap.Error(err))
		return nil, err
	}

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	now := c.now()
	out := make(map[string]string, len(files))
	for _, f := range files {
		for _, k := range []string{f.UniqueFileName, f.OriginalName} {
			if k == "" || !wanted[k] {
				continue
			}
			if _, dup := out[k]; dup {
				continue
			}
			out[k] = f.URL
			c.set(k, Entry{URL: f.URL, Timestamp: now})
		}
	}
	return out, nil
}

// needsResolve reports whether a file must go into the next batch: it has
// no url, its url was never cached, or its entry is expired or about to be.
func (c *Cache) needsResolve(f store.AttachmentFile, now time.Time) bool {
	if f.URL == "" {
		return true
	}
	e, ok := c.get(f.Key())
	if !ok {
		return true
	}
	return c.dueForRefresh(e, now)
}

// LoadFilesForMessages refreshes the attachment urls embedded in msgs with
// one batch resolution and returns copies of the messages whose content
// changed. Messages without an envelope or with malformed content are
// skipped; a failed resolution leaves urls as they were.
func (c *Cache) LoadFilesForMessages(ctx context.Context, msgs []store.Message) []store.Message {
	type parsed struct {
		msg     store.Message
		content store.Content
	}
	now := c.now()
	var items []parsed
	wanted := map[string]bool{}
	for _, m := range msgs {
		content, err := store.ParseContent(m.Content)
		if err != nil {
			if !errors.Is(err, store.ErrNotEnvelope) {
				c.logger.Debug("skipping malformed message content", zap.String("msg_id", m.ID), zap.Error(err))
			}
			continue
		}
		if len(content.Files) == 0 {
			continue
		}
		items = append(items, parsed{msg: m, content: content})
		for _, f := range content.Files {
			if k := f.Key(); k != "" && c.needsResolve(f, now) {
				wanted[k] = true
			}
		}
	}
	if len(items) == 0 {
		return nil
	}

	if len(wanted) > 0 {
		keys := make([]string, 0, len(wanted))
		for k := range wanted {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		// Keys another call is resolving are waited for, not requested
		// again. A failure is logged by resolve and leaves urls as they were.
		own, owned, joined := c.begin(keys)
		if own != nil {
			c.run(ctx, own, owned)
		}
		c.wait(ctx, joined)
	}

	now = c.now()
	var changed []store.Message
	for _, it := range items {
		dirty := false
		for i := range it.content.Files {
			f := &it.content.Files[i]
			e, ok := c.get(f.Key())
			if !ok || c.expired(e, now) || e.URL == f.URL {
				continue
			}
			f.URL = e.URL
			dirty = true
		}
		if dirty {
			it.msg.Content = it.content.Encode()
			changed = append(changed, it.msg)
		}
	}
	return changed
}
