package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a human-readable message to a phone. Transport (SMS,
// WhatsApp) lives behind it.
type Notifier interface {
	Notify(ctx context.Context, phone, message string) error
}

// LogNotifier writes messages to the structured log instead of a carrier.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, phone, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "phone", phone, "message", message)
	return nil
}

// Fanout sends message to each distinct non-empty phone. Failures are logged
// and never retried.
func Fanout(ctx context.Context, n Notifier, message string, phones ...string) {
	seen := make(map[string]struct{}, len(phones))
	for _, p := range phones {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		if err := n.Notify(ctx, p, message); err != nil {
			slog.Warn("notification delivery failed", "phone", p, "error", err)
		}
	}
}
