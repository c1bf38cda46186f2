package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/lock"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
)

func registerLifecycle(lc fx.Lifecycle, srv *Server, httpSrv *HTTPServer, lk *lock.Lock, domains Domains, refresher *intsync.Refresher, hs *health.Server, b *bus.Bus, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			api.TrackHealth(runCtx, b, hs, domains.Managers()...)
			watchViewerDeletion(runCtx, b, domains, logger)

			// Refresher subscribes before any connection loads messages.
			refresher.Start(runCtx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := httpSrv.Start(); err != nil {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()

			for _, d := range domains {
				d.Outbox.Start(runCtx)
			}

			go connectAll(runCtx, domains, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			for _, d := range domains {
				d.Outbox.Stop()
			}
			refresher.Stop()
			for _, m := range domains.Managers() {
				m.Disconnect(ctx)
			}
			if err := httpSrv.Stop(ctx); err != nil {
				logger.Warn("error stopping metrics server", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// connectAll connects every domain concurrently. Connection failures are
// recorded on each manager, so the group never fails.
func connectAll(ctx context.Context, domains Domains, logger *zap.Logger) {
	var g errgroup.Group
	for _, m := range domains.Managers() {
		g.Go(func() error {
			m.Connect(ctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range domains.Managers() {
		logger.Info("domain connect finished",
			zap.String("domain", m.Domain()),
			zap.String("state", string(m.State())),
			zap.Int("chats", len(m.Chats())),
			zap.String("error", m.Error()),
		)
	}
}

// watchViewerDeletion disconnects every domain once the server reports that
// the local user's identity was deleted.
func watchViewerDeletion(ctx context.Context, b *bus.Bus, domains Domains, logger *zap.Logger) {
	ch, unsub := b.Subscribe(bus.KindViewerDeleted, 4)
	go func() {
		defer unsub()
		select {
		case evt := <-ch:
			logger.Warn("viewer identity deleted, disconnecting", zap.String("domain", evt.Domain), zap.Any("identity", evt.Payload))
			for _, m := range domains.Managers() {
				m.Disconnect(ctx)
			}
		case <-ctx.Done():
		}
	}()
}
