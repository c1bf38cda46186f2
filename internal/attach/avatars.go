package attach

import (
	"sync"

	"github.com/elliotchance/orderedmap/v3"
)

// Avatars remembers the latest avatar url announced for each identity. It
// is kept apart from Cache so identities never share keys or capacity with
// attachment files.
type Avatars struct {
	capacity int

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, string]
}

// NewAvatars creates an avatar cache holding at most capacity identities.
func NewAvatars(capacity int) *Avatars {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Avatars{
		capacity: capacity,
		entries:  orderedmap.NewOrderedMap[string, string](),
	}
}

// Put records the avatar url of an identity.
func (a *Avatars) Put(identity, url string) {
	if a == nil || identity == "" || url == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries.Delete(identity)
	a.entries.Set(identity, url)
	for a.entries.Len() > a.capacity {
		a.entries.Delete(a.entries.Front().Key)
	}
}

// Invalidate forgets an identity.
func (a *Avatars) Invalidate(identity string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.entries.Delete(identity)
	a.mu.Unlock()
}

// Lookup returns the avatar url last recorded for identity.
func (a *Avatars) Lookup(identity string) (string, bool) {
	if a == nil || identity == "" {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	url, ok := a.entries.Get(identity)
	if ok {
		a.entries.Delete(identity)
		a.entries.Set(identity, url)
	}
	return url, ok
}

// Len returns the number of identities held.
func (a *Avatars) Len() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries.Len()
}
