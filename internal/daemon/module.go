package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/profile"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Debug      bool
	SocketPath string         // optional override for testing; empty = use default
	Config     *config.Config // optional; nil = load from the profile's files and environment
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideResolver,
			provideCache,
			provideAvatars,
			provideDomains,
			provideRefresher,
			provideService,
			provideHealth,
			NewServer,
			NewHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	if err := config.LoadEnvFile(profile.EnvPath(p.Profile)); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	base, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := base.ForProfile(p.Profile)
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile), p.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideResolver returns the resolver the cache uses, and the hub resolver
// that domain managers register with. They are the same value unless
// attachments are presigned against S3.
func provideResolver(cfg *config.Config, logger *zap.Logger) (attach.Resolver, *hubResolver, error) {
	hr := &hubResolver{}
	if cfg.Attachments.Resolver != config.ResolverS3 {
		return hr, hr, nil
	}
	client, err := attach.NewS3Client(context.Background(), attach.S3Options{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		UsePathStyle:    cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("attachment urls presigned by s3", zap.String("bucket", cfg.S3.Bucket))
	return attach.NewS3Resolver(client, cfg.S3.Bucket, cfg.Attachments.Expiration.Duration), hr, nil
}

func provideCache(r attach.Resolver, cfg *config.Config, logger *zap.Logger) *attach.Cache {
	return attach.New(r, attach.Options{
		Expiration:      cfg.Attachments.Expiration.Duration,
		ProactiveMargin: cfg.Attachments.ProactiveMargin.Duration,
		WaitTimeout:     cfg.Attachments.WaitTimeout.Duration,
		Capacity:        cfg.Attachments.Capacity,
	}, logger.Named("attach"))
}

func provideAvatars(cfg *config.Config) *attach.Avatars {
	return attach.NewAvatars(cfg.Attachments.Capacity)
}

func provideRefresher(cache *attach.Cache, b *bus.Bus, cfg *config.Config, domains Domains, logger *zap.Logger) *intsync.Refresher {
	return intsync.NewRefresher(cache, b, cfg.Attachments.RefreshInterval.Duration, logger.Named("refresher"), domains.Stores()...)
}

func provideService(p Params, cache *attach.Cache, avatars *attach.Avatars, b *bus.Bus, domains Domains, logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, cache, avatars, b, logger.Named("api"), domains...)
}

func provideHealth() *health.Server {
	return health.NewServer()
}
