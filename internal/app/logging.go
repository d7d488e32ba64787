package app

import (
	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the process-wide logger: text output with full
// timestamps, at the given level ("debug", "info", ...). An empty or unknown
// level keeps info.
func SetupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	if level == "" {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using %s", level, log.GetLevel())
		return
	}
	log.SetLevel(lvl)
}
