package api

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TrackHealth mirrors connection state into hs until ctx is done. Each
// domain is reported under its own service name; the overall service ""
// is SERVING while at least one domain is connected.
func TrackHealth(ctx context.Context, b *bus.Bus, hs *health.Server, managers ...*conn.Manager) {
	ch, unsub := b.Subscribe("conn.", 64)

	update := func() {
		serving := false
		for _, m := range managers {
			st := healthpb.HealthCheckResponse_NOT_SERVING
			if m.Connected() {
				st = healthpb.HealthCheckResponse_SERVING
				serving = true
			}
			hs.SetServingStatus(m.Domain(), st)
		}
		if serving {
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		} else {
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}
	update()

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				update()
			case <-ctx.Done():
				return
			}
		}
	}()
}
