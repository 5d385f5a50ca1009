package admission

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/studyowl/creditgate/internal/clock"
	"github.com/studyowl/creditgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// newStore picks the shared Redis counter when configured, else the
// process-local map with its background sweeper.
func newStore(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) Store {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				_ = ctx
				return client.Close()
			},
		})
		log.Info("admission controller using redis store", zap.String("addr", cfg.RedisAddr))
		return NewRedisStore(client)
	}

	store := NewLocalStore(clk)
	runSweeper(lc, store, cfg.Admission.SweepInterval, log)
	return store
}

func runSweeper(lc fx.Lifecycle, store *LocalStore, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if removed := store.Sweep(); removed > 0 {
							log.Debug("admission sweep", zap.Int("removed", removed))
						}
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			close(done)
			return nil
		},
	})
}

// Module wires the admission controller store.
var Module = fx.Module("admission",
	fx.Provide(newStore),
)
