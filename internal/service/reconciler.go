package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chamapay/internal/events"
	"chamapay/internal/gateway"
	"chamapay/internal/model"
	"chamapay/internal/notify"
	"chamapay/internal/store"
)

// ResultNotice is a final result reported by the gateway.
type ResultNotice struct {
	CorrelationID string
	Reference     string
	ResultCode    int
	ResultDesc    string
	GatewayTxnID  string
	Params        map[string]any
	Raw           json.RawMessage
}

// TimeoutNotice reports that the gateway gave up waiting on its own upstream.
// The real outcome is unknown.
type TimeoutNotice struct {
	CorrelationID string
	Reference     string
	ResultDesc    string
	Raw           json.RawMessage
}

func ResultNoticeFrom(r gateway.Result, raw []byte) ResultNotice {
	n := ResultNotice{
		CorrelationID: strings.TrimSpace(r.ConversationID),
		Reference:     strings.TrimSpace(r.OriginatorConversationID),
		ResultDesc:    r.ResultDesc,
		GatewayTxnID:  r.TransactionID,
		Params:        r.Params(),
		Raw:           raw,
	}
	if r.ResultCode != nil {
		n.ResultCode = *r.ResultCode
	}
	return n
}

func TimeoutNoticeFrom(r gateway.Result, raw []byte) TimeoutNotice {
	return TimeoutNotice{
		CorrelationID: strings.TrimSpace(r.ConversationID),
		Reference:     strings.TrimSpace(r.OriginatorConversationID),
		ResultDesc:    r.ResultDesc,
		Raw:           raw,
	}
}

type ReconcilerStats struct {
	Applied     int64 `json:"applied"`
	Ignored     int64 `json:"ignored"`
	Orphans     int64 `json:"orphans"`
	Unmatched   int64 `json:"unmatched"`
	LateSuccess int64 `json:"late_success"`
}

// Reconciler drives withdrawals to a terminal state from gateway callbacks.
// The first terminal outcome wins; every later callback is only recorded.
type Reconciler struct {
	store    store.Store
	notifier notify.Notifier
	events   events.Publisher
	now      func() time.Time

	applied     atomic.Int64
	ignored     atomic.Int64
	orphans     atomic.Int64
	unmatched   atomic.Int64
	lateSuccess atomic.Int64
}

func NewReconciler(st store.Store, n notify.Notifier, pub events.Publisher) *Reconciler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{
		store:    st,
		notifier: n,
		events:   pub,
		now:      time.Now,
	}
}

func (r *Reconciler) Stats() ReconcilerStats {
	return ReconcilerStats{
		Applied:     r.applied.Load(),
		Ignored:     r.ignored.Load(),
		Orphans:     r.orphans.Load(),
		Unmatched:   r.unmatched.Load(),
		LateSuccess: r.lateSuccess.Load(),
	}
}

// OnResult applies a final result: code 0 completes the withdrawal and debits
// its account, anything else fails it.
func (r *Reconciler) OnResult(ctx context.Context, n ResultNotice) (model.Withdrawal, error) {
	now := r.now()
	code := n.ResultCode
	s := model.Settlement{
		CorrelationID: n.CorrelationID,
		Reference:     n.Reference,
		Outcome:       model.StatusFailed,
		ResultCode:    &code,
		ResultDesc:    n.ResultDesc,
		GatewayTxnID:  n.GatewayTxnID,
		Callback:      model.CallbackRecord{Kind: "result", ReceivedAt: now, Payload: n.Raw},
		At:            now,
	}
	if code == 0 {
		s.Outcome = model.StatusCompleted
	}
	return r.settle(ctx, s, n.Params)
}

// OnTimeout moves a withdrawal that is still awaiting its result to timeout.
// No ledger mutation happens.
func (r *Reconciler) OnTimeout(ctx context.Context, n TimeoutNotice) (model.Withdrawal, error) {
	now := r.now()
	desc := n.ResultDesc
	if desc == "" {
		desc = "request timed out at the gateway"
	}
	s := model.Settlement{
		CorrelationID: n.CorrelationID,
		Reference:     n.Reference,
		Outcome:       model.StatusTimeout,
		ResultDesc:    desc,
		Callback:      model.CallbackRecord{Kind: "timeout", ReceivedAt: now, Payload: n.Raw},
		At:            now,
	}
	return r.settle(ctx, s, nil)
}

func (r *Reconciler) settle(ctx context.Context, s model.Settlement, params map[string]any) (model.Withdrawal, error) {
	// Callbacks are processed to the end even if the sender hangs up.
	ctx = context.WithoutCancel(ctx)

	w, applied, err := r.store.Settle(ctx, s)
	if errors.Is(err, store.ErrNotFound) {
		if err := r.reconcileOrphan(ctx, s, params); err != nil {
			return model.Withdrawal{}, err
		}
		w, applied, err = r.store.Settle(ctx, s)
	}
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("settle %s: %w", s.CorrelationID, err)
	}

	if !applied {
		r.ignore(ctx, w, s)
		return w, nil
	}

	r.applied.Add(1)
	slog.Info("withdrawal settled",
		"withdrawal_id", w.ID, "reference", w.Reference, "correlation_id", w.CorrelationID,
		"status", w.Status, "result_desc", w.ResultDesc)
	notify.Fanout(ctx, r.notifier, notify.ForStatus(w), w.Phone, w.Initiator.Phone)

	if w.Status == model.StatusCompleted {
		occurred := s.At
		if w.CompletedAt != nil {
			occurred = *w.CompletedAt
		}
		r.publish(ctx, events.TopicTransactionCompleted, w.TransactionID, events.TransactionCompleted{
			TransactionID: w.TransactionID,
			AccountID:     w.AccountID,
			Direction:     string(model.DirectionDebit),
			Amount:        w.Amount,
			WithdrawalID:  w.ID,
			Reference:     w.Reference,
			GatewayTxnID:  w.GatewayTxnID,
			OccurredAt:    occurred,
		})
	}
	return w, nil
}

// ignore handles a callback that arrived after the withdrawal settled, or
// before it was approved. A success reported for a withdrawal already marked
// failed or timed out means money moved that the ledger does not show.
func (r *Reconciler) ignore(ctx context.Context, w model.Withdrawal, s model.Settlement) {
	if s.Outcome == model.StatusCompleted && w.Status.Terminal() && w.Status != model.StatusCompleted {
		r.lateSuccess.Add(1)
		slog.Error("success reported for a settled withdrawal",
			"withdrawal_id", w.ID, "reference", w.Reference, "correlation_id", s.CorrelationID,
			"status", w.Status, "gateway_txn_id", s.GatewayTxnID)
		r.anomaly(ctx, model.AnomalyLateSuccess, w.ID, s,
			fmt.Sprintf("gateway reported success after withdrawal was %s", w.Status))
		return
	}

	r.ignored.Add(1)
	if !w.Status.Terminal() {
		slog.Warn("callback for withdrawal awaiting approval ignored",
			"withdrawal_id", w.ID, "correlation_id", s.CorrelationID, "kind", s.Callback.Kind)
		return
	}
	slog.Info("duplicate callback ignored",
		"withdrawal_id", w.ID, "correlation_id", s.CorrelationID, "kind", s.Callback.Kind, "status", w.Status)
}

// reconcileOrphan handles a callback that matches no withdrawal. If a debit
// transaction carries its reference, a withdrawal is synthesized so the
// regular settle path can apply it. Otherwise the callback is kept as an
// anomaly and ErrUnmatchedCallback is returned.
func (r *Reconciler) reconcileOrphan(ctx context.Context, s model.Settlement, params map[string]any) error {
	r.orphans.Add(1)

	txn, err := r.findDebit(ctx, s.Reference, s.CorrelationID)
	if errors.Is(err, store.ErrNotFound) {
		r.unmatched.Add(1)
		slog.Warn("callback matches no withdrawal or transaction",
			"correlation_id", s.CorrelationID, "reference", s.Reference, "kind", s.Callback.Kind)
		r.anomaly(ctx, model.AnomalyUnmatchedCallback, "", s, "no withdrawal or transaction for callback")
		return ErrUnmatchedCallback
	}
	if err != nil {
		return fmt.Errorf("find transaction: %w", err)
	}

	w := &model.Withdrawal{
		Reference:     s.Reference,
		AccountID:     txn.AccountID,
		Phone:         receiverPhone(params),
		Amount:        txn.Amount,
		Reason:        model.ReasonBusinessPayment,
		Remarks:       "synthesized from unmatched callback",
		Initiator:     model.Initiator{Name: "reconciler"},
		CorrelationID: s.CorrelationID,
		TransactionID: txn.ID,
	}
	if w.Reference == "" {
		w.Reference = uuid.NewString()
	}
	if amt, ok := paramDecimal(params, "TransactionAmount"); ok {
		w.Amount = amt
	}

	err = r.store.CreateOrphanWithdrawal(ctx, w)
	if errors.Is(err, store.ErrConflict) {
		// Another delivery of the same callback synthesized it first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("synthesize withdrawal: %w", err)
	}

	slog.Warn("synthesized withdrawal for unmatched callback",
		"withdrawal_id", w.ID, "transaction_id", txn.ID, "correlation_id", s.CorrelationID,
		"amount", w.Amount.String())
	r.anomaly(ctx, model.AnomalyOrphanSynthesized, w.ID, s,
		fmt.Sprintf("withdrawal synthesized from transaction %s", txn.ID))
	return nil
}

func (r *Reconciler) findDebit(ctx context.Context, refs ...string) (model.Transaction, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		txn, err := r.store.FindTransactionByRef(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return model.Transaction{}, err
		}
		if txn.Direction == model.DirectionDebit {
			return txn, nil
		}
	}
	return model.Transaction{}, store.ErrNotFound
}

func (r *Reconciler) anomaly(ctx context.Context, kind, withdrawalID string, s model.Settlement, detail string) {
	a := &model.Anomaly{
		Kind:          kind,
		CorrelationID: s.CorrelationID,
		Reference:     s.Reference,
		Payload:       s.Callback.Payload,
	}
	if err := r.store.RecordAnomaly(ctx, a); err != nil {
		slog.Error("failed to record anomaly", "kind", kind, "correlation_id", s.CorrelationID, "error", err)
	}
	r.publish(ctx, events.TopicAnomalies, s.CorrelationID, events.Anomaly{
		Kind:          kind,
		WithdrawalID:  withdrawalID,
		CorrelationID: s.CorrelationID,
		Reference:     s.Reference,
		Detail:        detail,
		OccurredAt:    s.At,
	})
}

func (r *Reconciler) publish(ctx context.Context, topic, key string, event any) {
	if err := r.events.Publish(ctx, topic, key, event); err != nil {
		slog.Error("failed to publish event", "topic", topic, "key", key, "error", err)
	}
}

// receiverPhone extracts the number from "2547XXXXXXXX - Jane Doe".
func receiverPhone(params map[string]any) string {
	v, ok := params["ReceiverPartyPublicName"].(string)
	if !ok {
		return ""
	}
	num, _, _ := strings.Cut(v, " - ")
	phone, err := NormalizePhone(num)
	if err != nil {
		return ""
	}
	return phone
}

func paramDecimal(params map[string]any, key string) (decimal.Decimal, bool) {
	switch v := params[key].(type) {
	case float64:
		d := decimal.NewFromFloat(v)
		return d, d.IsPositive()
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil && d.IsPositive()
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil && d.IsPositive()
	}
	return decimal.Decimal{}, false
}
