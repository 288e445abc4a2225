package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger returns the global logger tagged with a component name.
// It reads log.Logger at call time, so call it after logging is configured.
func ComponentLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
