package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chamapay/internal/events"
	"chamapay/internal/model"
	"chamapay/internal/store"
)

// Sweeper reports withdrawals stuck in pending and drops expired one-time
// codes. It never changes a withdrawal's state: a pending withdrawal may
// still be paid out, so only a human can close it.
type Sweeper struct {
	store      store.Store
	events     events.Publisher
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time

	// reported keeps a withdrawal from being reported on every tick.
	reported map[string]time.Time
}

func NewSweeper(st store.Store, pub events.Publisher, interval, staleAfter time.Duration) *Sweeper {
	if pub == nil {
		pub = events.Nop{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Sweeper{
		store:      st,
		events:     pub,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  100,
		now:        time.Now,
		reported:   make(map[string]time.Time),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("starting sweeper", "interval", s.interval, "stale_after", s.staleAfter)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass. It is not safe for concurrent use.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()

	purged, err := s.store.PurgeExpiredCodes(ctx, now)
	if err != nil {
		return fmt.Errorf("purge codes: %w", err)
	}
	if purged > 0 {
		slog.Info("expired codes purged", "count", purged)
	}

	stale, err := s.store.ListStalePending(ctx, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}

	seen := make(map[string]struct{}, len(stale))
	for _, w := range stale {
		seen[w.ID] = struct{}{}
		if _, ok := s.reported[w.ID]; ok {
			continue
		}
		s.report(ctx, w, now)
		s.reported[w.ID] = now
	}
	for id := range s.reported {
		if _, ok := seen[id]; !ok {
			delete(s.reported, id)
		}
	}
	return nil
}

func (s *Sweeper) report(ctx context.Context, w model.Withdrawal, now time.Time) {
	age := now.Sub(w.UpdatedAt).Truncate(time.Second)
	slog.Warn("withdrawal pending too long",
		"withdrawal_id", w.ID, "reference", w.Reference, "correlation_id", w.CorrelationID, "age", age)

	payload, _ := json.Marshal(map[string]any{
		"withdrawal_id": w.ID,
		"amount":        w.Amount,
		"pending_since": w.UpdatedAt,
	})
	err := s.store.RecordAnomaly(ctx, &model.Anomaly{
		Kind:          model.AnomalyStalePending,
		CorrelationID: w.CorrelationID,
		Reference:     w.Reference,
		Payload:       payload,
	})
	if err != nil {
		slog.Error("failed to record anomaly", "withdrawal_id", w.ID, "error", err)
	}

	err = s.events.Publish(ctx, events.TopicAnomalies, w.ID, events.Anomaly{
		Kind:          model.AnomalyStalePending,
		WithdrawalID:  w.ID,
		CorrelationID: w.CorrelationID,
		Reference:     w.Reference,
		Detail:        fmt.Sprintf("pending for %s", age),
		OccurredAt:    now,
	})
	if err != nil {
		slog.Error("failed to publish event", "topic", events.TopicAnomalies, "error", err)
	}
}
