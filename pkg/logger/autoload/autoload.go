// Package autoload initialises the global logger from LOG_* variables on import.
package autoload

import (
	"github.com/rs/zerolog/log"
	configx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/config"
	logx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		logx.Init()
		log.Warn().Err(err).Msg("logger config invalid, using defaults")
		return
	}
	logx.Init(*conf)
}
