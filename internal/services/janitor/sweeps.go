package janitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/lockout"
	"github.com/NordCoder/Gatekeeper/internal/auth/refresh"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
)

// Retention is how long each table keeps rows past their useful life.
type Retention struct {
	RefreshTokens time.Duration `mapstructure:"refresh_tokens"`
	LoginAttempts time.Duration `mapstructure:"login_attempts"`
	ResetTokens   time.Duration `mapstructure:"reset_tokens"`
	Outbox        time.Duration `mapstructure:"outbox"`
	Deliveries    time.Duration `mapstructure:"deliveries"`
}

// PostgresSweeps covers every table the auth server and notifier grow.
func PostgresSweeps(db *pg.DB, r Retention, log *zap.Logger) []Sweep {
	engine := refresh.NewEngine(pg.NewRefreshTokenRepo(db), pg.NewTransactor(db, log),
		refresh.Config{Retention: r.RefreshTokens}, log)
	tracker := lockout.NewTracker(pg.NewLoginAttemptRepo(db), lockout.Policy{Retention: r.LoginAttempts})

	return []Sweep{
		{Name: "refresh_tokens", Purger: engine},
		{Name: "login_attempts", Purger: tracker},
		{Name: "reset_tokens", Purger: Retain(pg.NewResetTokenRepo(db), r.ResetTokens)},
		{Name: "outbox", Purger: Retain(pg.NewOutboxRepo(db), r.Outbox)},
		{Name: "deliveries", Purger: Retain(pg.NewDeliveryRepo(db), r.Deliveries)},
	}
}
