package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/observability"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []BulkPaymentRequest
	singles  []SinglePaymentRequest
	status   domain.PaymentStatus
	err      error
}

func (p *fakeProcessor) PayNow(ctx context.Context, req SinglePaymentRequest) (*ProcessorResponse, error) {
	return p.single(ctx, req, domain.PaymentStatusProcessing)
}

func (p *fakeProcessor) SchedulePayment(ctx context.Context, req SinglePaymentRequest) (*ProcessorResponse, error) {
	return p.single(ctx, req, domain.PaymentStatusScheduled)
}

func (p *fakeProcessor) single(ctx context.Context, req SinglePaymentRequest, accepted domain.PaymentStatus) (*ProcessorResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.singles = append(p.singles, req)
	if p.err != nil {
		return nil, p.err
	}
	status := p.status
	if status == "" {
		status = accepted
	}
	return &ProcessorResponse{Status: status, TransactionID: "fp_single_" + req.IdempotencyKey[:8]}, nil
}

func (p *fakeProcessor) SubmitBulkPayment(ctx context.Context, req BulkPaymentRequest) (*ProcessorResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status := p.status
	if status == "" {
		status = domain.PaymentStatusProcessing
	}
	return &ProcessorResponse{Status: status, TransactionID: "fp_tx_" + req.IdempotencyKey[:8]}, nil
}

func (p *fakeProcessor) AssociateCard(context.Context, string, Card) (*CardAssociation, error) {
	return &CardAssociation{Token: "card_tok_1"}, nil
}

type captureAuditor struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *captureAuditor) Record(event domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

var (
	actor   = Actor{UserID: 7, CompanyID: 3}
	targets = []domain.PaymentTarget{
		{DestinationAccount: "PT50000011112222333344", Amount: 15000},
		{DestinationAccount: "PT50000099998888777766", Amount: 30050},
	}
)

func TestDispatchSuccess(t *testing.T) {
	proc := &fakeProcessor{}
	auditor := &captureAuditor{}
	metrics := observability.NewMetrics()
	d := NewDispatcher(proc, auditor, nil, metrics)

	res, err := d.Dispatch(context.Background(), actor, "tok_fp_company", targets)
	require.NoError(t, err)

	assert.Equal(t, domain.Amount(45050), res.Total)
	assert.Equal(t, "450.50", res.Total.String())
	assert.Equal(t, domain.PaymentStatusProcessing, res.Status)
	assert.NotEmpty(t, res.TransactionID)

	require.Len(t, proc.requests, 1)
	sent := proc.requests[0]
	assert.Equal(t, "company-3", sent.CustomerID)
	assert.Equal(t, res.IdempotencyKey, sent.IdempotencyKey)
	assert.Equal(t, "PT50000011112222333344", sent.Targets[0].Account)
	assert.Equal(t, int64(30050), sent.Targets[1].Amount)

	require.Len(t, auditor.events, 1)
	event := auditor.events[0]
	assert.Equal(t, domain.AuditOutcomeSuccess, event.Outcome)
	assert.Equal(t, int64(7), event.ActorID)
	assertMasked(t, event)

	assert.Equal(t, int64(1), metrics.Snapshot().Dispatches["processing"])
}

func TestDispatchUsesFreshKeyPerCall(t *testing.T) {
	proc := &fakeProcessor{}
	d := NewDispatcher(proc, nil, nil, nil)

	first, err := d.Dispatch(context.Background(), actor, "tok", targets)
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), actor, "tok", targets)
	require.NoError(t, err)

	require.Len(t, proc.requests, 2)
	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.NotEqual(t, proc.requests[0].IdempotencyKey, proc.requests[1].IdempotencyKey)
}

func TestSubmitReusesBatchKey(t *testing.T) {
	proc := &fakeProcessor{}
	d := NewDispatcher(proc, nil, nil, nil)
	batch := NewBatch("tok", targets)

	_, err := d.Submit(context.Background(), actor, batch)
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), actor, batch)
	require.NoError(t, err)

	assert.Equal(t, proc.requests[0].IdempotencyKey, proc.requests[1].IdempotencyKey)
}

func TestDispatchFailures(t *testing.T) {
	tests := []struct {
		name    string
		proc    *fakeProcessor
		source  string
		targets []domain.PaymentTarget
		wantErr error
		calls   int
	}{
		{name: "rejected", proc: &fakeProcessor{status: domain.PaymentStatusFailed}, source: "tok", targets: targets, wantErr: ErrPaymentRejected, calls: 1},
		{name: "unreachable", proc: &fakeProcessor{err: errors.New("dial tcp: refused")}, source: "tok", targets: targets, wantErr: apperrors.ErrExternalService, calls: 1},
		{name: "no targets", proc: &fakeProcessor{}, source: "tok", wantErr: ErrInvalidBatch},
		{name: "no source", proc: &fakeProcessor{}, targets: targets, wantErr: ErrInvalidBatch},
		{name: "zero amount", proc: &fakeProcessor{}, source: "tok", targets: []domain.PaymentTarget{{DestinationAccount: "PT50000011112222333344"}}, wantErr: ErrInvalidBatch},
		{name: "empty account", proc: &fakeProcessor{}, source: "tok", targets: []domain.PaymentTarget{{Amount: 10}}, wantErr: ErrInvalidBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := &captureAuditor{}
			d := NewDispatcher(tt.proc, auditor, nil, nil)

			res, err := d.Dispatch(context.Background(), actor, tt.source, tt.targets)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())
			assert.Len(t, tt.proc.requests, tt.calls)
			assert.NotContains(t, err.Error(), "PT50000011112222333344")

			require.Len(t, auditor.events, 1)
			assert.Equal(t, domain.AuditOutcomeFailure, auditor.events[0].Outcome)
			assertMasked(t, auditor.events[0])
		})
	}
}

func TestDispatchRespectsCancelledContext(t *testing.T) {
	proc := &fakeProcessor{}
	d := NewDispatcher(proc, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, actor, "tok", targets)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExternalService))
}

func assertMasked(t *testing.T, event domain.AuditEvent) {
	t.Helper()
	raw, err := json.Marshal(event.MaskedPayload)
	require.NoError(t, err)
	for _, target := range targets {
		assert.NotContains(t, string(raw), target.DestinationAccount)
		assert.False(t, strings.Contains(string(raw), target.DestinationAccount[:10]))
	}
}

func TestSubmitSingleNow(t *testing.T) {
	proc := &fakeProcessor{}
	auditor := &captureAuditor{}
	d := NewDispatcher(proc, auditor, nil, nil)

	res, err := d.SubmitSingle(context.Background(), actor, NewBatch("tok", targets[:1]), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, res.Status)
	assert.Equal(t, domain.Amount(15000), res.Total)

	require.Len(t, proc.singles, 1)
	sent := proc.singles[0]
	assert.Equal(t, "PT50000011112222333344", sent.DestinationAccount)
	assert.Equal(t, DefaultCurrency, sent.Currency)
	assert.Empty(t, sent.ScheduleAt)
	assert.Empty(t, proc.requests)

	require.Len(t, auditor.events, 1)
	assert.Equal(t, ModeSingle, auditor.events[0].MaskedPayload["mode"])
	raw, err := json.Marshal(auditor.events)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "PT50000011112222333344")
}

func TestSubmitSingleScheduled(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{}
	auditor := &captureAuditor{}
	d := NewDispatcher(proc, auditor, nil, nil)
	d.now = func() time.Time { return now }

	at := now.Add(48 * time.Hour)
	res, err := d.SubmitSingle(context.Background(), actor, NewBatch("tok", targets[1:]), at)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusScheduled, res.Status)

	require.Len(t, proc.singles, 1)
	assert.Equal(t, "2026-03-03T09:00:00Z", proc.singles[0].ScheduleAt)
	assert.Equal(t, ModeScheduled, auditor.events[0].MaskedPayload["mode"])
}

func TestSubmitSingleRejectsInvalidInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		targets []domain.PaymentTarget
		at      time.Time
	}{
		{name: "two targets", targets: targets},
		{name: "schedule in the past", targets: targets[:1], at: now.Add(-time.Minute)},
		{name: "schedule now", targets: targets[:1], at: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			d := NewDispatcher(proc, &captureAuditor{}, nil, nil)
			d.now = func() time.Time { return now }

			_, err := d.SubmitSingle(context.Background(), actor, NewBatch("tok", tt.targets), tt.at)
			require.ErrorIs(t, err, ErrInvalidBatch)
			assert.Empty(t, proc.singles)
		})
	}
}

func TestInvalidBatchRendersAsBadRequest(t *testing.T) {
	d := NewDispatcher(&fakeProcessor{}, nil, nil, nil)
	_, err := d.Submit(context.Background(), actor, NewBatch("tok", nil))
	require.ErrorIs(t, err, ErrInvalidBatch)

	rendered := apperrors.ToDomainError(err)
	assert.Equal(t, http.StatusBadRequest, rendered.HTTPStatus)
	assert.Equal(t, "VALIDATION_FAILED", rendered.Code)
}
