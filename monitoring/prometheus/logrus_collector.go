package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const (
	prefixKey     = "prefix"
	defaultPrefix = "global"
)

var logEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "log_entries_total",
	Help: "Total number of log messages.",
}, []string{"level", "prefix"})

// LogrusCollector is a logrus hook counting log messages by level and
// by the prefix field the gateway packages log under.
type LogrusCollector struct{}

// NewLogrusCollector returns a hook to register with logrus.AddHook.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{}
}

// Fire implements logrus.Hook.
func (c *LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := defaultPrefix
	if value, ok := entry.Data[prefixKey]; ok {
		if s, ok := value.(string); ok {
			prefix = s
		}
	}
	logEntriesTotal.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels implements logrus.Hook.
func (c *LogrusCollector) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.DebugLevel,
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
	}
}
