// internal/infra/logger/logger.go
package logger

import (
	"os"
	"strings"
	"time"

	"costcontrol/internal/infra/config"

	"github.com/sirupsen/logrus"
)

const serviceName = "costcontrol"

// Log is the global logger instance
var Log = logrus.New()

// Init configures the global logger: level and format from the configuration,
// every entry tagged with the service name and stamped in the reset time zone,
// so log lines line up with the computed reset instants.
func Init(cfg *config.AppConfig) {
	Log.SetOutput(os.Stdout)
	Log.ReplaceHooks(make(logrus.LevelHooks))
	Log.AddHook(&serviceHook{location: cfg.Location})

	level, levelErr := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if levelErr != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	switch cfg.Environment {
	case "production", "staging":
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05 Z07:00",
		})
	}

	if levelErr != nil {
		Log.WithError(levelErr).Warnf("Invalid log level %q, using info", cfg.LogLevel)
	}
	fields := logrus.Fields{"log_level": level.String(), "environment": cfg.Environment}
	if cfg.Location != nil {
		fields["timezone"] = cfg.Location.String()
	}
	Log.WithFields(fields).Debug("Logger configured")
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// serviceHook stamps entries with the service name and the configured zone.
type serviceHook struct {
	location *time.Location
}

func (h *serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = serviceName
	}
	if h.location != nil {
		entry.Time = entry.Time.In(h.location)
	}
	return nil
}
