package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the zap preset. App, Env and Ver are stamped on every
// entry as service, env and version.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	App    string `mapstructure:"-"`
	Env    string `mapstructure:"-"`
	Ver    string `mapstructure:"-"`
}

func NewLogger(c LogConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	level := new(zapcore.Level)
	if err := level.Set(c.Level); err != nil {
		*level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(
		zap.Fields(
			zap.String("service", c.App),
			zap.String("env", c.Env),
			zap.String("version", c.Ver),
		),
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
