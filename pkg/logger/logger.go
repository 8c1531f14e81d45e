package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Service      string `split_words:"true" default:"chative-ordering"`
}

var DefaultConfig = &Config{
	Debug:        false,
	PrettyFormat: false,
	Service:      "chative-ordering",
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

// Init replaces the global logger.
func Init(opts ...Config) {
	log.Logger = New(os.Stdout, opts...)
}

// New builds a logger writing to w. JSON unless PrettyFormat is set.
func New(w io.Writer, opts ...Config) zerolog.Logger {
	conf := safe(opts...)

	out := w
	if conf.PrettyFormat {
		out = zerolog.ConsoleWriter{Out: w}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if service := strings.TrimSpace(conf.Service); service != "" {
		ctx = ctx.Str("service", service)
	}
	logger := ctx.Logger()

	if conf.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	return logger.With().Caller().Stack().Logger()
}
