package config

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the standard logrus logger: JSON lines in
// production, human readable text elsewhere, at the given level.  An
// unknown level falls back to info.
func SetupLogging(env, level string) {
	log.SetOutput(os.Stdout)
	if env == "prod" || env == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown LOG_LEVEL, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
