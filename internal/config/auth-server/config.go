package auth_server_config

import (
	"time"

	"github.com/NordCoder/Gatekeeper/internal/auth/keys"
	"github.com/NordCoder/Gatekeeper/internal/auth/lockout"
	"github.com/NordCoder/Gatekeeper/internal/auth/password"
	"github.com/NordCoder/Gatekeeper/internal/auth/ratelimit"
	"github.com/NordCoder/Gatekeeper/internal/auth/refresh"
	"github.com/NordCoder/Gatekeeper/internal/auth/reset"
	"github.com/NordCoder/Gatekeeper/internal/auth/token"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	"github.com/NordCoder/Gatekeeper/internal/outbox"
	kafkax "github.com/NordCoder/Gatekeeper/internal/repository/kafka"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	"github.com/NordCoder/Gatekeeper/internal/services/auth-server/httpapi"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Kafka struct {
	Producer kafkax.ProducerConfig `mapstructure:"producer"`
	Topic    kafkax.TopicSpec      `mapstructure:"topic"`
}

type Refresh struct {
	refresh.Config `mapstructure:",squash"`
	Cookie         httpapi.CookieConfig `mapstructure:"cookie"`
	InBody         bool                 `mapstructure:"in_body"`
}

type Password struct {
	password.Policy       `mapstructure:",squash"`
	password.HasherConfig `mapstructure:",squash"`
	HIBP                  password.HIBPConfig `mapstructure:"hibp"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	App       App                 `mapstructure:"app"`
	Server    Server              `mapstructure:"server"`
	DB        pg.Config           `mapstructure:"db"`
	Redis     Redis               `mapstructure:"redis"`
	Kafka     Kafka               `mapstructure:"kafka"`
	OTEL      obs.OTELConfig      `mapstructure:"otel"`
	Log       Log                 `mapstructure:"log"`
	Keys      keys.Config         `mapstructure:"keys"`
	Token     token.Config        `mapstructure:"token"`
	Refresh   Refresh             `mapstructure:"refresh"`
	RateLimit ratelimit.Config    `mapstructure:"ratelimit"`
	Lockout   lockout.Policy      `mapstructure:"lockout"`
	Reset     reset.Config        `mapstructure:"reset"`
	Password  Password            `mapstructure:"password"`
	Outbox    outbox.RunnerConfig `mapstructure:"outbox"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    "gatekeeper/auth-server",
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
