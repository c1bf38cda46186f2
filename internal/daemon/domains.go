package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/history"
	"github.com/matheus3301/chatsync/internal/hub"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/token"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Domains holds the component set of every configured chat domain, direct first.
type Domains []api.Domain

// Managers returns the connection managers in domain order.
func (d Domains) Managers() []*conn.Manager {
	out := make([]*conn.Manager, len(d))
	for i, dom := range d {
		out[i] = dom.Manager
	}
	return out
}

// Stores returns the domain stores in domain order.
func (d Domains) Stores() []*store.Store {
	out := make([]*store.Store, len(d))
	for i, dom := range d {
		out[i] = dom.Manager.Store()
	}
	return out
}

func provideDomains(cfg *config.Config, b *bus.Bus, avatars *attach.Avatars, hr *hubResolver, logger *zap.Logger) (Domains, error) {
	viewer, err := token.Viewer(cfg.Hub.Viewer, cfg.Hub.AccessToken)
	if err != nil {
		return nil, err
	}
	logger.Info("viewer resolved", zap.String("viewer", viewer))

	var out Domains
	for _, ep := range []struct {
		kind store.Kind
		url  string
	}{
		{store.Direct, cfg.Hub.DirectURL},
		{store.Group, cfg.Hub.GroupURL},
	} {
		if ep.url == "" {
			continue
		}
		d := newDomain(cfg, ep.kind, ep.url, viewer, b, avatars, logger)
		hr.add(d.Manager)
		out = append(out, d)
	}
	return out, nil
}

func newDomain(cfg *config.Config, kind store.Kind, url, viewer string, b *bus.Bus, avatars *attach.Avatars, logger *zap.Logger) api.Domain {
	domain := string(kind)
	log := logger.With(zap.String("domain", domain))

	client := hub.NewClient(hub.Options{
		URL:                  url,
		AccessToken:          cfg.Hub.AccessToken,
		KeepAlive:            cfg.Hub.KeepAlive.Duration,
		HandshakeTimeout:     cfg.Hub.HandshakeTimeout.Duration,
		AutoReconnect:        !cfg.Reconnect.Disabled,
		ReconnectBaseDelay:   cfg.Reconnect.BaseDelay.Duration,
		ReconnectMaxDelay:    cfg.Reconnect.MaxDelay.Duration,
		MaxReconnectAttempts: uint64(max(cfg.Reconnect.MaxAttempts, 0)),
	}, log.Named("hub"))

	s := store.New(domain, b)
	p := identity.New(s, kind, viewer, avatars, log.Named("identity"))
	m := conn.NewManager(kind, client, s, p, b, conn.Options{CallTimeout: cfg.Hub.CallTimeout.Duration}, log)

	pager := history.NewPager(s, m, cfg.History.PageSize, log.Named("history"))
	m.SetMessageSink(pager)

	sender := outbox.NewSender(domain, m, b, outbox.Options{
		Interval:    cfg.Outbox.Interval.Duration,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	}, log.Named("outbox"))

	return api.Domain{Manager: m, Pager: pager, Outbox: sender}
}

// hubResolver asks whichever domain connection is up for download urls.
type hubResolver struct {
	mu       sync.RWMutex
	managers []*conn.Manager
}

func (r *hubResolver) add(m *conn.Manager) {
	r.mu.Lock()
	r.managers = append(r.managers, m)
	r.mu.Unlock()
}

func (r *hubResolver) GetDownloadUrls(ctx context.Context, fileNames []string) ([]wire.ResolvedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.managers {
		if m.Connected() {
			return m.GetDownloadUrls(ctx, fileNames)
		}
	}
	return nil, conn.ErrNotConnected
}
