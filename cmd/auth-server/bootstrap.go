package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/keys"
	"github.com/NordCoder/Gatekeeper/internal/auth/lockout"
	"github.com/NordCoder/Gatekeeper/internal/auth/password"
	"github.com/NordCoder/Gatekeeper/internal/auth/ratelimit"
	"github.com/NordCoder/Gatekeeper/internal/auth/refresh"
	"github.com/NordCoder/Gatekeeper/internal/auth/reset"
	"github.com/NordCoder/Gatekeeper/internal/auth/token"
	config "github.com/NordCoder/Gatekeeper/internal/config/auth-server"
	"github.com/NordCoder/Gatekeeper/internal/obs/retry"
	"github.com/NordCoder/Gatekeeper/internal/outbox"
	kafkax "github.com/NordCoder/Gatekeeper/internal/repository/kafka"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/auth"
)

// app holds everything main has to start and stop.
type app struct {
	uc       *auth.Usecase
	flow     *reset.Flow
	outbox   *outbox.Runner
	producer *kafkax.Producer
	local    *ratelimit.Local
	redis    *redis.Client
}

func (a *app) close() {
	a.flow.Wait()
	if a.local != nil {
		a.local.Stop()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.producer.Close()
}

func wire(ctx context.Context, cfg *config.Config, db *pg.DB, log *zap.Logger) (*app, error) {
	material, err := keys.Load(ctx, cfg.Keys, log)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	tokens, err := token.NewService(material, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	hasher, err := password.NewHasher(cfg.Password.HasherConfig, log)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	breach := password.NewHIBPClient(cfg.Password.HIBP, log)

	a := &app{}
	limiter, err := a.limiter(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	_ = kafkax.EnsureTopic(ctx, cfg.Kafka.Producer.Brokers, cfg.Kafka.Topic, log)
	a.producer = kafkax.NewProducer(cfg.Kafka.Producer).WithLogger(log)
	events := kafkax.NewNotificationEvents(a.producer)

	tx := pg.NewTransactor(db, log)
	users := pg.NewUserRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)
	emitter := outbox.NewEmitter(outboxRepo)

	engine := refresh.NewEngine(pg.NewRefreshTokenRepo(db), tx, cfg.Refresh.Config, log)
	a.flow = reset.NewFlow(reset.Deps{
		Store:    pg.NewResetTokenRepo(db),
		Users:    users,
		Hasher:   hasher,
		Policy:   cfg.Password.Policy,
		Breach:   breach,
		Sessions: engine,
		Events:   emitter,
		Notifier: reset.NewPublisherNotifier(
			kafkax.WithRetry(events, retry.DefaultPublishPolicy("reset_link", log)),
			cfg.Reset.ResetURL,
		),
		Tx: tx,
	}, cfg.Reset, log)

	a.uc = auth.NewUseCase(auth.Deps{
		Tokens:  tokens,
		Engine:  engine,
		Limiter: limiter,
		Limits:  cfg.RateLimit,
		Lockout: lockout.NewTracker(pg.NewLoginAttemptRepo(db), cfg.Lockout),
		Reset:   a.flow,
		Users:   users,
		Roles:   users,
		Hasher:  hasher,
		Policy:  cfg.Password.Policy,
		Breach:  breach,
		Events:  emitter,
		Tx:      tx,
	}, log)

	a.outbox = outbox.NewRunner(log, outboxRepo,
		outbox.MakeGlobalHandler(events, retry.DefaultPublishPolicy("outbox_publish", log)),
		cfg.Outbox)
	return a, nil
}

func (a *app) limiter(ctx context.Context, cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, error) {
	if cfg.RateLimit.Backend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// The limiter fails open, so a cold Redis only weakens throttling.
			log.Warn("redis ping", zap.Error(err))
		}
		return ratelimit.NewRedis(a.redis, cfg.RateLimit, log), nil
	}
	a.local = ratelimit.NewLocal(cfg.RateLimit)
	a.local.Start()
	return a.local, nil
}
