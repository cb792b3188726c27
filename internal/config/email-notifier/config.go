package email_notifier_config

import (
	"github.com/NordCoder/Gatekeeper/internal/obs"
	"github.com/NordCoder/Gatekeeper/internal/obs/retry"
	kafkax "github.com/NordCoder/Gatekeeper/internal/repository/kafka"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	notifier "github.com/NordCoder/Gatekeeper/internal/services/email-notifier"
)

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Send bounds SMTP retries for one event before the consumer moves on.
type Send struct {
	Attempts int `mapstructure:"attempts"`
}

type Config struct {
	DB     pg.Config             `mapstructure:"db"`
	In     kafkax.ConsumerConfig `mapstructure:"kafka_in"`
	Topic  kafkax.TopicSpec      `mapstructure:"topic"`
	SMTP   notifier.SMTPConfig   `mapstructure:"smtp"`
	Brand  notifier.Brand        `mapstructure:"brand"`
	Send   Send                  `mapstructure:"send"`
	Server Server                `mapstructure:"server"`
	OTEL   obs.OTELConfig        `mapstructure:"otel"`
	Log    Log                   `mapstructure:"log"`
}

func (c *Config) LoggerConfig() obs.LogConfig {
	return obs.LogConfig{Level: c.Log.Level, Pretty: c.Log.Pretty, App: "gatekeeper/email-notifier"}
}

func (c *Config) SendPolicy() retry.Policy {
	return retry.HTTPPolicy("smtp_send", c.Send.Attempts-1, nil)
}
