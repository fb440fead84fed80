package service

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chamapay/internal/gateway"
	"chamapay/internal/model"
	"chamapay/internal/store"
)

const (
	initiatorPhone = "254711000001"
	destPhone      = "254722000002"
	approverPhone  = "254733000003"
)

type sentMessage struct {
	Phone   string
	Message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Notify(_ context.Context, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{Phone: phone, Message: message})
	return nil
}

func (n *recordingNotifier) to(phone string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.Phone == phone {
			out = append(out, m.Message)
		}
	}
	return out
}

var codePattern = regexp.MustCompile(`code (?:is )?(\d{6})`)

// lastCode returns the most recent code delivered to phone.
func (n *recordingNotifier) lastCode(t *testing.T, phone string) string {
	t.Helper()
	msgs := n.to(phone)
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := codePattern.FindStringSubmatch(msgs[i]); m != nil {
			return m[1]
		}
	}
	t.Fatalf("no code sent to %s", phone)
	return ""
}

type published struct {
	Topic string
	Key   string
	Event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *recordingPublisher) topic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// fakeDisburser accepts every submission unless err is set. before runs
// ahead of the response, standing in for a callback that beats it.
type fakeDisburser struct {
	mu     sync.Mutex
	calls  []model.Withdrawal
	err    error
	before func(w model.Withdrawal)
}

func (d *fakeDisburser) Submit(_ context.Context, w model.Withdrawal) (gateway.Submission, error) {
	d.mu.Lock()
	d.calls = append(d.calls, w)
	err, before := d.err, d.before
	d.mu.Unlock()

	if before != nil {
		before(w)
	}
	if err != nil {
		return gateway.Submission{}, err
	}
	return gateway.Submission{
		ConversationID:           "AG_" + w.Reference,
		OriginatorConversationID: w.Reference,
		ResponseCode:             "0",
		ResponseDescription:      "Accept the service request successfully.",
	}, nil
}

func (d *fakeDisburser) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type testEnv struct {
	st        *store.Memory
	notifier  *recordingNotifier
	gw        *fakeDisburser
	pub       *recordingPublisher
	gate      *OTPGate
	svc       *DisbursementService
	approvals *ApprovalService
	rec       *Reconciler
	account   model.Account
}

func newTestEnv(t *testing.T, policy ApprovalPolicy) *testEnv {
	t.Helper()

	e := &testEnv{
		st:       store.NewMemory(),
		notifier: &recordingNotifier{},
		gw:       &fakeDisburser{},
		pub:      &recordingPublisher{},
	}
	e.gate = NewOTPGate(e.st, e.notifier, 0)
	e.gate.cost = bcrypt.MinCost
	e.svc = NewDisbursementService(e.st, e.gate, e.gw, e.notifier, policy)
	e.approvals = NewApprovalService(e.st, e.notifier, e.svc, 0)
	e.approvals.cost = bcrypt.MinCost
	e.rec = NewReconciler(e.st, e.notifier, e.pub)

	e.account = model.Account{Name: "Harambee fund", Balance: decimal.NewFromInt(10000), OwnerType: model.OwnerCampaign}
	require.NoError(t, e.st.CreateAccount(context.Background(), &e.account))
	return e
}

func (e *testEnv) otp(t *testing.T) string {
	t.Helper()
	require.NoError(t, e.gate.RequestCode(context.Background(), initiatorPhone))
	return e.notifier.lastCode(t, initiatorPhone)
}

func (e *testEnv) request(amount int64, otp string) InitiateRequest {
	return InitiateRequest{
		AccountID: e.account.ID,
		Amount:    decimal.NewFromInt(amount),
		Phone:     "0722000002",
		Reason:    string(model.ReasonBusinessPayment),
		Remarks:   "medical bill",
		Initiator: model.Initiator{Name: "Wanjiku", Phone: "+254711000001"},
		OTP:       otp,
	}
}

func (e *testEnv) initiate(t *testing.T, amount int64) model.Withdrawal {
	t.Helper()
	w, err := e.svc.Initiate(context.Background(), e.request(amount, e.otp(t)))
	require.NoError(t, err)
	return w
}

func (e *testEnv) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	a, err := e.st.GetAccount(context.Background(), e.account.ID)
	require.NoError(t, err)
	return a.Balance
}

func (e *testEnv) txnStatus(t *testing.T, w model.Withdrawal) model.TransactionStatus {
	t.Helper()
	txn, err := e.st.GetTransaction(context.Background(), w.TransactionID)
	require.NoError(t, err)
	return txn.Status
}

func success(w model.Withdrawal) ResultNotice {
	return ResultNotice{
		CorrelationID: w.CorrelationID,
		Reference:     w.Reference,
		ResultCode:    0,
		ResultDesc:    "The service request is processed successfully.",
		GatewayTxnID:  "NLJ41HAY6Q",
		Raw:           []byte(`{"Result":{"ResultCode":0}}`),
	}
}

func failure(w model.Withdrawal, code int) ResultNotice {
	return ResultNotice{
		CorrelationID: w.CorrelationID,
		Reference:     w.Reference,
		ResultCode:    code,
		ResultDesc:    "The initiator information is invalid.",
		Raw:           []byte(`{"Result":{"ResultCode":2001}}`),
	}
}

func timeout(w model.Withdrawal) TimeoutNotice {
	return TimeoutNotice{
		CorrelationID: w.CorrelationID,
		ResultDesc:    "The service request timed out.",
		Raw:           []byte(`{"Result":{}}`),
	}
}

func gatewayResult(conversationID, reference string, code *int) gateway.Result {
	return gateway.Result{
		ResultCode:               code,
		ResultDesc:               "The service request is processed successfully.",
		OriginatorConversationID: reference,
		ConversationID:           conversationID,
		TransactionID:            "TX1",
	}
}
