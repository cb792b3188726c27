package janitor_config

import (
	"github.com/NordCoder/Gatekeeper/internal/obs"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	"github.com/NordCoder/Gatekeeper/internal/services/janitor"
)

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	DB        pg.Config         `mapstructure:"db"`
	Janitor   janitor.Config    `mapstructure:"janitor"`
	Retention janitor.Retention `mapstructure:"retention"`
	Server    Server            `mapstructure:"server"`
	OTEL      obs.OTELConfig    `mapstructure:"otel"`
	Log       Log               `mapstructure:"log"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	return obs.LogConfig{Level: c.Log.Level, Pretty: c.Log.Pretty, App: "gatekeeper/janitor"}
}
