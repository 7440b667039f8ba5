package coordinator

import (
	"context"

	"github.com/sirupsen/logrus"

	"marketcollector/internal/fetcher"
)

// Hook observes every task the coordinator runs
type Hook interface {
	Before(ctx context.Context, label, key string)
	After(ctx context.Context, label string, outcome fetcher.Outcome)
}

// LogHook logs task start and completion with timing
type LogHook struct {
	Logger logrus.FieldLogger
}

// Before implements Hook
func (h LogHook) Before(_ context.Context, label, key string) {
	h.Logger.WithFields(logrus.Fields{"group": label, "key": key}).Debug("task started")
}

// After implements Hook
func (h LogHook) After(_ context.Context, label string, outcome fetcher.Outcome) {
	entry := h.Logger.WithFields(logrus.Fields{
		"group":   label,
		"key":     outcome.Key,
		"elapsed": outcome.Elapsed,
	})
	if outcome.Err != nil {
		entry.WithError(outcome.Err).Warn("task failed")
		return
	}
	entry.Info("task finished")
}
