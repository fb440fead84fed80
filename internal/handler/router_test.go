package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chamapay/internal/gateway"
	"chamapay/internal/model"
	"chamapay/internal/mw"
	"chamapay/internal/service"
	"chamapay/internal/store"
)

const (
	testSecret    = "jwt-secret"
	testCallback  = "cb-token"
	operatorPhone = "254711000001"
)

type inbox struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (i *inbox) Notify(_ context.Context, phone, message string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.msgs == nil {
		i.msgs = make(map[string][]string)
	}
	i.msgs[phone] = append(i.msgs[phone], message)
	return nil
}

var codeRe = regexp.MustCompile(`code (?:is )?(\d{6})`)

func (i *inbox) code(t *testing.T, phone string) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	msgs := i.msgs[phone]
	for n := len(msgs) - 1; n >= 0; n-- {
		if m := codeRe.FindStringSubmatch(msgs[n]); m != nil {
			return m[1]
		}
	}
	t.Fatalf("no code sent to %s", phone)
	return ""
}

type acceptingGateway struct{}

func (acceptingGateway) Submit(_ context.Context, w model.Withdrawal) (gateway.Submission, error) {
	return gateway.Submission{
		ConversationID:           "AG_" + w.Reference,
		OriginatorConversationID: w.Reference,
		ResponseCode:             "0",
	}, nil
}

type server struct {
	handler http.Handler
	st      *store.Memory
	inbox   *inbox
	auth    *service.AuthService
	account model.Account
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWith(t, service.ApprovalPolicy{})
}

func newServerWith(t *testing.T, policy service.ApprovalPolicy) *server {
	t.Helper()

	st := store.NewMemory()
	box := &inbox{}
	gate := service.NewOTPGate(st, box, 0)
	disb := service.NewDisbursementService(st, gate, acceptingGateway{}, box, policy)
	auth := service.NewAuthService(st)

	acc := model.Account{Name: "Harambee fund", Balance: decimal.NewFromInt(5000), OwnerType: model.OwnerCampaign}
	require.NoError(t, st.CreateAccount(context.Background(), &acc))

	h := NewRouter(Services{
		Auth:        auth,
		Accounts:    service.NewAccountService(st),
		Withdrawals: disb,
		Approvals:   service.NewApprovalService(st, box, disb, 0),
		OTP:         gate,
		Reconciler:  service.NewReconciler(st, box, nil),
	}, testSecret, testCallback)

	return &server{handler: h, st: st, inbox: box, auth: auth, account: acc}
}

func token(t *testing.T, caps ...string) string {
	t.Helper()
	return tokenFor(t, "op-1", operatorPhone, caps...)
}

func tokenFor(t *testing.T, id, phone string, caps ...string) string {
	t.Helper()
	tok, err := mw.IssueToken(model.Operator{
		ID: id, Name: "Operator " + id, Phone: phone, Capabilities: caps,
	}, testSecret, time.Now())
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) withdraw(t *testing.T, tok string, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/otp", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return s.do(t, http.MethodPost, "/api/withdrawals", tok, map[string]any{
		"account_id": s.account.ID,
		"amount":     amount,
		"phone":      "0722000002",
		"reason":     "BusinessPayment",
		"otp":        s.inbox.code(t, operatorPhone),
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// TestLogin verifies a registered operator receives a usable token.
func TestLogin(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	_, err := s.auth.Register(context.Background(), service.RegisterRequest{
		Login: "wanjiku", Password: "s3cret-pass", Name: "Wanjiku", Phone: "0711000001",
		Capabilities: []string{model.CapRead},
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/operators/login", "", map[string]string{"login": "wanjiku", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/operators/login", "", map[string]string{"login": "wanjiku", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Authorization"))

	body := decode[map[string]any](t, rec)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	rec = s.do(t, http.MethodGet, "/api/withdrawals", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// TestWithdrawAndSettle drives a withdrawal from request to completion through the callback.
func TestWithdrawAndSettle(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	tok := token(t, model.CapInitiate, model.CapRead)

	rec := s.withdraw(t, tok, 1500)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	w := decode[model.Withdrawal](t, rec)
	assert.Equal(t, model.StatusPending, w.Status)
	assert.Equal(t, "254722000002", w.Phone)
	assert.Equal(t, operatorPhone, w.Initiator.Phone)

	cb := fmt.Sprintf(`{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"ok","OriginatorConversationID":%q,"ConversationID":%q,"TransactionID":"TX1"}}`,
		w.Reference, w.CorrelationID)

	rec = s.do(t, http.MethodPost, "/api/callbacks/b2c/result?token=wrong", "", cb)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodPost, "/api/callbacks/b2c/result?token="+testCallback, "", cb)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/withdrawals/"+w.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Withdrawal](t, rec)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "TX1", got.GatewayTxnID)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+s.account.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decode[model.Account](t, rec)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(3500)), acc.Balance.String())

	rec = s.do(t, http.MethodGet, "/api/reconciliation/stats", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[service.ReconcilerStats](t, rec)
	assert.EqualValues(t, 1, stats.Applied)
	assert.EqualValues(t, 1, stats.Ignored)

	rec = s.do(t, http.MethodGet, "/api/withdrawals?status=completed", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Withdrawal](t, rec), 1)
}

// TestWithdrawErrors verifies validation, OTP and parameter failures map to their status codes.
func TestWithdrawErrors(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	tok := token(t, model.CapInitiate, model.CapRead)

	rec := s.withdraw(t, tok, 999999)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/withdrawals", tok, map[string]any{
		"account_id": s.account.ID,
		"amount":     100,
		"phone":      "0722000002",
		"reason":     "BusinessPayment",
		"otp":        "abcdef",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/withdrawals", tok, "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/withdrawals?limit=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/withdrawals?status=bogus", tok, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/withdrawals/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestCapabilities verifies routes refuse operators without the matching capability.
func TestCapabilities(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	reader := token(t, model.CapRead)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/withdrawals", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/otp", reader, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/accounts", reader, map[string]any{"name": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/withdrawals/x/approval/approve", reader, map[string]any{"code": "123456"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/operators/register", reader, map[string]any{"login": "x"}).Code)
}

// TestCallbacks verifies malformed bodies are refused and unmatched ones still acknowledged.
func TestCallbacks(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/callbacks/b2c/result?token="+testCallback, "", `{"Result":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/callbacks/b2c/result?token="+testCallback, "",
		`{"Result":{"ResultCode":0,"ConversationID":"AG_unknown","OriginatorConversationID":"nope"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/callbacks/b2c/timeout?token="+testCallback, "",
		`{"Result":{"ConversationID":"AG_unknown"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	kinds := map[string]int{}
	for _, a := range s.st.Anomalies() {
		kinds[a.Kind]++
	}
	assert.Equal(t, 2, kinds[model.AnomalyUnmatchedCallback])
}

// TestAccounts verifies account creation and conflict on a reused id.
func TestAccounts(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	tok := token(t, model.CapAccounts, model.CapRead)

	rec := s.do(t, http.MethodPost, "/api/accounts", tok, map[string]any{"id": "acc-1", "name": "Welfare", "balance": "250"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/accounts", tok, map[string]any{"id": "acc-1", "name": "Welfare"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/accounts", tok, map[string]any{"name": "", "balance": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts/acc-1", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welfare", decode[model.Account](t, rec).Name)
}

// TestRequestOTP verifies the code goes to the operator's phone or the one given.
func TestRequestOTP(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	tok := token(t, model.CapInitiate)

	rec := s.do(t, http.MethodPost, "/api/otp", tok, map[string]string{"phone": "0722000002"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":true}`, rec.Body.String())
	assert.Len(t, s.inbox.code(t, "254722000002"), 6)

	rec = s.do(t, http.MethodPost, "/api/otp", tok, map[string]string{"phone": "12"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, decode[map[string]any](t, rec)["sent"].(bool))
}

// TestApprove_InitiatorCannotApproveUnderAnotherPhone verifies self-approval is refused by operator account, whatever phone the withdrawal names.
func TestApprove_InitiatorCannotApproveUnderAnotherPhone(t *testing.T) {
	t.Parallel()

	s := newServerWith(t, service.ApprovalPolicy{
		Threshold:     decimal.NewFromInt(1000),
		ApproverName:  "Otieno",
		ApproverPhone: operatorPhone,
	})
	tok := token(t, model.CapInitiate, model.CapRead, model.CapApprove)

	rec := s.do(t, http.MethodPost, "/api/otp", tok, map[string]string{"phone": "0733000003"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/withdrawals", tok, map[string]any{
		"account_id": s.account.ID,
		"amount":     2000,
		"phone":      "0722000002",
		"reason":     "BusinessPayment",
		"initiator":  map[string]string{"operator_id": "op-9", "name": "Akinyi", "phone": "0733000003"},
		"otp":        s.inbox.code(t, "254733000003"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	w := decode[model.Withdrawal](t, rec)
	assert.Equal(t, model.StatusInitiated, w.Status)
	assert.Equal(t, "op-1", w.Initiator.OperatorID)

	rec = s.do(t, http.MethodPost, "/api/withdrawals/"+w.ID+"/approval/code", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code := s.inbox.code(t, operatorPhone)

	approve := "/api/withdrawals/" + w.ID + "/approval/approve"
	rec = s.do(t, http.MethodPost, approve, tok, map[string]string{"code": code})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/withdrawals/"+w.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusInitiated, decode[model.Withdrawal](t, rec).Status)

	other := tokenFor(t, "op-2", "254744000004", model.CapApprove)
	rec = s.do(t, http.MethodPost, approve, other, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StatusPending, decode[model.Withdrawal](t, rec).Status)
}
