package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/backoffice/internal/api/http/handlers"
	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/observability"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/service"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

type activeDirectory struct{}

func (activeDirectory) IsSubjectActive(context.Context, int64) (bool, error) { return true, nil }

type stubAuth struct{ loggedOut []int64 }

func (s *stubAuth) Login(_ context.Context, email, password string) (*service.LoginResult, error) {
	if password != "pw" {
		return nil, auth.ErrInvalidCredentials
	}
	return &service.LoginResult{User: &domain.User{ID: 1, CompanyID: 10, Email: email, IsAdmin: true}, Token: "tok"}, nil
}

func (s *stubAuth) Logout(_ context.Context, p *auth.Principal) error {
	s.loggedOut = append(s.loggedOut, p.SubjectID)
	return nil
}

type stubPayments struct {
	runErr    error
	got       service.RunRequest
	gotSingle service.SingleRequest
	cred      string
}

func (s *stubPayments) PayOne(_ context.Context, p *auth.Principal, req service.SingleRequest) (*service.RunResult, error) {
	s.gotSingle = req
	s.cred = p.Credential
	if s.runErr != nil {
		return nil, s.runErr
	}
	result := &service.RunResult{
		TransactionID:  "fp_single_1",
		Status:         domain.PaymentStatusProcessing,
		Total:          1000,
		IdempotencyKey: "key-2",
		Payouts:        1,
		Targets:        []payment.MaskedTarget{{Account: "****5432", Amount: "10.00"}},
	}
	if !req.ScheduleAt.IsZero() {
		at := req.ScheduleAt.UTC()
		result.Status = domain.PaymentStatusScheduled
		result.ScheduledFor = &at
	}
	return result, nil
}

func (s *stubPayments) RunPayouts(_ context.Context, p *auth.Principal, req service.RunRequest) (*service.RunResult, error) {
	s.got = req
	s.cred = p.Credential
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &service.RunResult{
		TransactionID:  "fp_tx_1",
		Status:         domain.PaymentStatusSuccess,
		Total:          46050,
		IdempotencyKey: "key-1",
		Payouts:        2,
		Targets:        []payment.MaskedTarget{{Account: "****5432", Amount: "450.50"}},
	}, nil
}

func (s *stubPayments) AssociateCard(_ context.Context, p *auth.Principal, in service.CardInput) (*domain.PaymentSource, error) {
	return &domain.PaymentSource{CompanyID: p.CompanyID, Token: "card_tok", CardLast4: in.PAN[len(in.PAN)-4:]}, nil
}

type stubClients struct{}

func (stubClients) SetPaymentInfo(_ context.Context, _ *auth.Principal, id int64, iban string) (*service.PaymentInfo, error) {
	return &service.PaymentInfo{ClientID: id, IBAN: "****" + iban[len(iban)-4:], HasIBAN: true}, nil
}

func (stubClients) GetPaymentInfo(_ context.Context, _ *auth.Principal, id int64) (*service.PaymentInfo, error) {
	return nil, fmt.Errorf("%w: authentication failed", apperrors.ErrDecryption)
}

type stubWebhooks struct{ raw []byte }

func (s *stubWebhooks) Handle(_ context.Context, raw []byte, signature string) error {
	s.raw = raw
	if signature != "sha256=good" {
		return fmt.Errorf("%w: signature mismatch", apperrors.ErrIntegrity)
	}
	return nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("dial tcp: refused") }

type testServer struct {
	app      *fiber.App
	tokens   *auth.TokenService
	payments *stubPayments
	webhooks *stubWebhooks
	metrics  *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	s := &testServer{
		tokens:   auth.NewTokenService(key, activeDirectory{}, 0),
		payments: &stubPayments{},
		webhooks: &stubWebhooks{},
		metrics:  observability.NewMetrics(),
	}

	app := fiber.New()
	RegisterMiddlewares(app, nil, s.metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("backoffice", "test", map[string]handlers.Pinger{"redis": downPinger{}}),
		Metrics:        handlers.NewMetricsHandler(s.metrics),
		Auth:           handlers.NewAuthHandler(&stubAuth{}),
		Payments:       handlers.NewPaymentsHandler(s.payments),
		Clients:        handlers.NewClientsHandler(stubClients{}),
		Webhooks:       handlers.NewWebhookHandler(s.webhooks),
		AuthMiddleware: auth.NewAuthMiddleware(s.tokens, nil, s.metrics),
	})
	s.app = app
	return s
}

func (s *testServer) token(t *testing.T, identity domain.Identity) string {
	t.Helper()
	tok, err := s.tokens.Issue(identity)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body []byte, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

var (
	admin = domain.Identity{SubjectID: 1, CompanyID: 10, IsAdmin: true}
	agent = domain.Identity{SubjectID: 2, CompanyID: 10, IsAgent: true}
	plain = domain.Identity{SubjectID: 3, CompanyID: 10}
)

func TestPayRoute(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, admin)

	status, body := s.do(t, http.MethodPost, "/company/pay", tok, []byte(`{"signature":"abcd","request_key":"run-1"}`), nil)
	require.Equal(t, http.StatusOK, status)

	data := body["data"].(map[string]any)
	assert.Equal(t, "fp_tx_1", data["transaction_id"])
	assert.Equal(t, "460.50", data["total"])
	assert.Equal(t, "abcd", s.payments.got.Signature)
	assert.Equal(t, "run-1", s.payments.got.RequestKey)
	assert.Equal(t, tok, s.payments.cred)
}

func TestPayRouteAccessControl(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not.a.jwt", http.StatusUnauthorized},
		{"agent", s.token(t, agent), http.StatusForbidden},
		{"plain user", s.token(t, plain), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := s.do(t, http.MethodPost, "/company/pay", tc.token, []byte(`{}`), nil)
			assert.Equal(t, tc.status, status)
		})
	}
	assert.Empty(t, s.payments.cred)
}

func TestPayRouteMapsFailureKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad", apperrors.ErrValidation), http.StatusUnauthorized, "ACCESS_DENIED"},
		{fmt.Errorf("%w: gone", apperrors.ErrDecryption), http.StatusUnprocessableEntity, "VALUE_UNAVAILABLE"},
		{payment.ErrPaymentRejected, http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{fmt.Errorf("%w: no key", apperrors.ErrConfiguration), http.StatusInternalServerError, "CONFIGURATION_ERROR"},
		{apperrors.NewValidationError("no pending payouts", nil), http.StatusBadRequest, "VALIDATION_FAILED"},
		{fmt.Errorf("%w: no targets", payment.ErrInvalidBatch), http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			s := newTestServer(t)
			s.payments.runErr = tc.err

			status, body := s.do(t, http.MethodPost, "/company/pay", s.token(t, admin), []byte(`{"signature":"ab"}`), nil)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, errorCode(body))
		})
	}
}

func TestPayPayoutRoute(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, admin)

	status, body := s.do(t, http.MethodPost, "/company/payouts/7/pay", tok, []byte(`{"signature":"abcd","request_key":"p-7"}`), nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "fp_single_1", data["transaction_id"])
	assert.Equal(t, "10.00", data["total"])
	assert.NotContains(t, data, "scheduled_for")
	assert.Equal(t, int64(7), s.payments.gotSingle.PayoutID)
	assert.Equal(t, "abcd", s.payments.gotSingle.Signature)
	assert.Equal(t, "p-7", s.payments.gotSingle.RequestKey)
	assert.True(t, s.payments.gotSingle.ScheduleAt.IsZero())

	status, body = s.do(t, http.MethodPost, "/company/payouts/7/pay", tok, []byte(`{"signature":"abcd","schedule_at":"2030-01-02T09:00:00+01:00"}`), nil)
	require.Equal(t, http.StatusOK, status)
	data = body["data"].(map[string]any)
	assert.Equal(t, "scheduled", data["status"])
	assert.Equal(t, "2030-01-02T08:00:00Z", data["scheduled_for"])
}

func TestPayPayoutRouteRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, admin)

	cases := map[string]struct {
		path string
		body string
	}{
		"non numeric id": {"/company/payouts/abc/pay", `{"signature":"ab"}`},
		"zero id":        {"/company/payouts/0/pay", `{"signature":"ab"}`},
		"bad time":       {"/company/payouts/7/pay", `{"signature":"ab","schedule_at":"tomorrow"}`},
		"bad json":       {"/company/payouts/7/pay", `{"signature":`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := s.do(t, http.MethodPost, tc.path, tok, []byte(tc.body), nil)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}
	assert.Empty(t, s.payments.cred)

	status, _ := s.do(t, http.MethodPost, "/company/payouts/7/pay", s.token(t, agent), []byte(`{}`), nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestPaymentSourceRoute(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/company/payment-source", s.token(t, admin),
		[]byte(`{"card_number":"4242424242424242","expiry":"12/29","holder":"ACME"}`), nil)
	require.Equal(t, http.StatusCreated, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "4242", data["card_last4"])
	assert.NotContains(t, fmt.Sprint(body), "4242424242424242")
}

func TestClientPaymentInfoRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPut, "/clients/100/payment-info", s.token(t, agent), []byte(`{"iban":"GB82WEST12345698765432"}`), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "****5432", body["data"].(map[string]any)["iban"])

	status, body = s.do(t, http.MethodGet, "/clients/100/payment-info", s.token(t, admin), nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALUE_UNAVAILABLE", errorCode(body))

	status, _ = s.do(t, http.MethodGet, "/clients/abc/payment-info", s.token(t, admin), nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/clients/100/payment-info", s.token(t, plain), nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestWebhookRoute(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"type":"payment.success",  "data":{"transaction_id":"fp_tx_1"}}`)

	status, resp := s.do(t, http.MethodPost, "/webhooks/fastpay", "", body, map[string]string{"FastPay-Signature": "sha256=good"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "received", resp["status"])
	assert.Equal(t, body, s.webhooks.raw)

	status, resp = s.do(t, http.MethodPost, "/webhooks/fastpay", "", body, map[string]string{"FastPay-Signature": "sha256=bad"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INTEGRITY_VIOLATION", errorCode(resp))
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/auth/login", "", []byte(`{"email":"a@b.test","password":"pw"}`), nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "tok", data["auth"].(map[string]any)["token"])
	assert.NotContains(t, fmt.Sprint(data["user"]), "password")

	status, body = s.do(t, http.MethodPost, "/auth/login", "", []byte(`{"email":"a@b.test","password":"nope"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(body))

	status, _ = s.do(t, http.MethodPost, "/auth/login", "", []byte(`{"email":`), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/auth/logout", s.token(t, plain), nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestOperationalRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health/live", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, http.MethodGet, "/health/ready", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(body))

	status, _ = s.do(t, http.MethodGet, "/no/such/route", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, _ = s.do(t, http.MethodPost, "/company/pay", "not.a.jwt", []byte(`{}`), nil)
	status, body = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	rejections := body["token_rejections"].(map[string]any)
	assert.EqualValues(t, 1, rejections["malformed"])
}
