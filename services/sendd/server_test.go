package sendd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"payconfirm/core/invoice"
	"payconfirm/core/readiness"
	"payconfirm/core/submission"
	"payconfirm/core/units"
	"payconfirm/core/workflow"
	"payconfirm/network"
	"payconfirm/services/sendd/middleware"
)

const testInvoice = "LNBC10U1PJQXYZAPP5QQQSYQCYQ5RQWZQFQQQSYQCYQ5RQWZQFQQQSYQCYQ5RQWZQFQYPQ"

type stubNode struct {
	mu           sync.Mutex
	decoded      invoice.PaymentRequest
	alias        string
	payErr       error
	paid         []string
	balanceErr   error
	balanceCalls int
	release      chan struct{}
}

func (n *stubNode) GetInfo(context.Context) (network.NodeInfo, error) {
	return network.NodeInfo{Ready: true, SyncedToChain: true, SyncedToGraph: true}, nil
}

func (n *stubNode) DecodePayReq(_ context.Context, payReq string) (invoice.PaymentRequest, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	req := n.decoded
	req.Invoice = payReq
	return req, nil
}

func (n *stubNode) NodeAlias(context.Context, string) (string, error) {
	return n.alias, nil
}

func (n *stubNode) PayInvoice(_ context.Context, payReq string) (PaymentReceipt, error) {
	if n.release != nil {
		<-n.release
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, payReq)
	if n.payErr != nil {
		return PaymentReceipt{}, n.payErr
	}
	return PaymentReceipt{PaymentHash: "hash-1", PaymentPreimage: "preimage-1"}, nil
}

func (n *stubNode) ChannelBalance(context.Context) (Balance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balanceCalls++
	if n.balanceErr != nil {
		return Balance{}, n.balanceErr
	}
	return Balance{LocalSat: 50_000}, nil
}

func (n *stubNode) payments() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paid...)
}

type harness struct {
	t        *testing.T
	node     *stubNode
	ready    atomic.Bool
	session  *SessionStore
	attempts *AttemptStore
	server   *Server
	http     *httptest.Server
}

func newHarness(t *testing.T, auth middleware.AuthConfig) *harness {
	t.Helper()
	h := &harness{t: t, node: &stubNode{
		decoded: invoice.PaymentRequest{AmountSat: 1000, Description: "[Alice] coffee", Destination: "02abc"},
		alias:   "alice-node",
	}}
	h.ready.Store(true)

	session, err := OpenSessionStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	h.session = session

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	attempts, err := NewAttemptStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = attempts.Close() })
	h.attempts = attempts

	server, err := NewServer(ServerConfig{
		Node:     h.node,
		Session:  session,
		Attempts: attempts,
		Readiness: readiness.SourceFunc(func() readiness.Signals {
			v := h.ready.Load()
			return readiness.Signals{EngineReady: v, ControlReady: v, ChainSynced: v, GraphSynced: v}
		}),
		Manager: workflow.NewManager(nil),
		Display: Display{Unit: units.UnitSatoshi, FiatUnit: "USD", FiatRate: 50_000},
		Auth:    auth,
	})
	require.NoError(t, err)
	h.server = server
	h.http = httptest.NewServer(server.Handler())
	t.Cleanup(h.http.Close)
	return h
}

func (h *harness) do(method, path string, body any, token string) *http.Response {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) begin() View {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/v1/workflow", map[string]string{"invoice": testInvoice}, "")
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
	var view View
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func (h *harness) view() (View, int) {
	h.t.Helper()
	resp := h.do(http.MethodGet, "/v1/workflow", nil, "")
	var view View
	if resp.StatusCode == http.StatusOK {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&view))
	}
	return view, resp.StatusCode
}

func (h *harness) submit() (SubmitResponse, int) {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/v1/workflow/submit", nil, "")
	var out SubmitResponse
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return out, resp.StatusCode
}

func TestBeginBuildsConfirmationView(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	view := h.begin()

	require.Equal(t, "Confirm pay invoice", view.Title)
	require.True(t, view.Ready)
	require.False(t, view.Pending)
	require.Equal(t, submission.StatusIdle, view.State.Status)
	keys := make([]string, 0, len(view.Items))
	for _, item := range view.Items {
		keys = append(keys, item.Key)
	}
	require.Equal(t, []string{"INVOICE", "AMOUNT_BTC", "AMOUNT_FIAT", "RECIPIENT", "MESSAGE"}, keys)
	require.Equal(t, strings.ToLower(testInvoice[:26])+"...", view.Items[0].Value)
	require.Equal(t, "Amount sats", view.Items[1].Title)
	require.Equal(t, "1000", view.Items[1].Value)
	require.Equal(t, "0.50", view.Items[2].Value)
	require.Equal(t, "Alice", view.Items[3].Value)

	stored, err := h.session.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, testInvoice, stored.Invoice)
}

func TestBeginRejectsEmptyInvoice(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	resp := h.do(http.MethodPost, "/v1/workflow", map[string]string{"invoice": "  "}, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitWhenNotReadyReturnsConflict(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	h.begin()
	h.ready.Store(false)

	view, status := h.view()
	require.Equal(t, http.StatusOK, status)
	require.False(t, view.Ready)
	require.Equal(t, []string{"engine", "control", "chain", "graph"}, view.Waiting)

	out, status := h.submit()
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, submission.OutcomeRejected, out.Outcome)
	require.Empty(t, h.node.payments())

	attempts, err := h.attempts.ForWorkflow(context.Background(), view.WorkflowID)
	require.NoError(t, err)
	require.Empty(t, attempts)
}

func TestSubmitSuccessCompletesAndClearsSession(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	view := h.begin()

	out, status := h.submit()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, submission.OutcomeCompleted, out.Outcome)
	require.NotNil(t, out.Receipt)
	require.Equal(t, "hash-1", out.Receipt.PaymentHash)
	require.Equal(t, []string{testInvoice}, h.node.payments())

	balance, refreshed := h.server.Balances().Snapshot()
	require.False(t, refreshed.IsZero())
	require.EqualValues(t, 50_000, balance.LocalSat)

	require.Eventually(t, func() bool {
		_, status := h.view()
		return status == http.StatusNotFound
	}, time.Second, 10*time.Millisecond)
	_, err := h.session.Load(context.Background())
	require.ErrorIs(t, err, ErrSessionEmpty)

	attempts, err := h.attempts.ForWorkflow(context.Background(), view.WorkflowID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, "completed", attempts[0].Outcome)
	require.Equal(t, invoice.PaymentRequest{Invoice: testInvoice}.Fingerprint(), attempts[0].Fingerprint)
}

func TestSubmitFailureNotifiesAndAllowsRetry(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	h.node.payErr = &RPCError{Message: "no route found"}
	view := h.begin()

	out, status := h.submit()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, submission.OutcomeFailed, out.Outcome)
	require.Equal(t, "no route found", out.Message)
	require.Equal(t, submission.StatusFailed, out.State.Status)

	current, status := h.view()
	require.Equal(t, http.StatusOK, status)
	require.True(t, current.Ready)
	require.NotNil(t, current.Notification)
	require.Equal(t, "Error: no route found", current.Notification.Text)
	require.Equal(t, "Okay", current.Notification.ButtonText)
	require.Equal(t, submission.NotificationDanger, current.Notification.Kind)

	resp := h.do(http.MethodPost, "/v1/notifications/dismiss", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current, _ = h.view()
	require.Nil(t, current.Notification)

	h.node.mu.Lock()
	h.node.payErr = nil
	h.node.mu.Unlock()
	out, status = h.submit()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, submission.OutcomeCompleted, out.Outcome)

	attempts, err := h.attempts.ForWorkflow(context.Background(), view.WorkflowID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "failed", attempts[0].Outcome)
	require.Equal(t, "no route found", attempts[0].Message)
}

func TestSubmitWhilePendingIsRejected(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	h.node.release = make(chan struct{})
	h.begin()

	first := make(chan SubmitResponse, 1)
	go func() {
		resp, err := http.Post(h.http.URL+"/v1/workflow/submit", "application/json", nil)
		if err != nil {
			first <- SubmitResponse{}
			return
		}
		defer resp.Body.Close()
		var out SubmitResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		first <- out
	}()

	require.Eventually(t, func() bool {
		view, status := h.view()
		return status == http.StatusOK && view.Pending
	}, time.Second, 5*time.Millisecond)

	view, _ := h.view()
	require.False(t, view.Ready)
	out, status := h.submit()
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, submission.OutcomeRejected, out.Outcome)

	close(h.node.release)
	require.Equal(t, submission.OutcomeCompleted, (<-first).Outcome)
	require.Len(t, h.node.payments(), 1)
}

func TestAbandonClearsSessionOnce(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	h.begin()

	resp := h.do(http.MethodDelete, "/v1/workflow", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err := h.session.Load(context.Background())
	require.ErrorIs(t, err, ErrSessionEmpty)

	resp = h.do(http.MethodDelete, "/v1/workflow", nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, status := h.view()
	require.Equal(t, http.StatusNotFound, status)
}

func TestBeginSupersedesPreviousWorkflow(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	first := h.begin()
	second := h.begin()
	require.NotEqual(t, first.WorkflowID, second.WorkflowID)

	current, status := h.view()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, second.WorkflowID, current.WorkflowID)

	stored, err := h.session.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, testInvoice, stored.Invoice)
}

func TestStreamSendsCurrentView(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	begun := h.begin()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/workflow/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame StreamFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.True(t, frame.Active)
	require.Equal(t, begun.WorkflowID, frame.View.WorkflowID)

	resp := h.do(http.MethodDelete, "/v1/workflow", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	for {
		_, data, err = conn.Read(ctx)
		require.NoError(t, err)
		frame = StreamFrame{}
		require.NoError(t, json.Unmarshal(data, &frame))
		if !frame.Active {
			break
		}
	}
}

func TestStreamReportsEndAfterCompletedPayment(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	h.begin()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/workflow/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame StreamFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.True(t, frame.Active)

	out, status := h.submit()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, submission.OutcomeCompleted, out.Outcome)

	for {
		_, data, err = conn.Read(ctx)
		require.NoError(t, err)
		frame = StreamFrame{}
		require.NoError(t, json.Unmarshal(data, &frame))
		if !frame.Active {
			break
		}
	}
	_, code := h.view()
	require.Equal(t, http.StatusNotFound, code)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{Enabled: true, HMACSecret: "secret"})
	resp := h.do(http.MethodGet, "/v1/workflow", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBalanceEndpoint(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	resp := h.do(http.MethodGet, "/v1/balance", nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, h.server.Balances().RefreshBalance(context.Background()))
	resp = h.do(http.MethodGet, "/v1/balance", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshFailureStillCompletes(t *testing.T) {
	h := newHarness(t, middleware.AuthConfig{})
	h.node.balanceErr = errors.New("balance unavailable")
	h.begin()

	out, status := h.submit()
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, submission.OutcomeCompleted, out.Outcome)
	h.node.mu.Lock()
	require.Equal(t, 1, h.node.balanceCalls)
	h.node.mu.Unlock()
}
