package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/repository"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return key
}

type fakeUsers struct {
	mu   sync.Mutex
	byID map[int64]*domain.User
	err  error
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{byID: make(map[int64]*domain.User)}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeUsers) SetActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Active = active
	return nil
}

func (f *fakeUsers) IsSubjectActive(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	return u.Active, nil
}

type fakeClients struct {
	mu   sync.Mutex
	byID map[int64]*domain.Client
}

func newFakeClients(clients ...*domain.Client) *fakeClients {
	f := &fakeClients{byID: make(map[int64]*domain.Client)}
	for _, c := range clients {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeClients) GetByID(_ context.Context, companyID, clientID int64) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[clientID]
	if !ok || c.CompanyID != companyID {
		return nil, pgx.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (f *fakeClients) UpdateEncryptedIBAN(_ context.Context, companyID, clientID int64, encrypted string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[clientID]
	if !ok || c.CompanyID != companyID {
		return pgx.ErrNoRows
	}
	c.EncryptedIBAN = encrypted
	return nil
}

// fakePayouts mirrors the claim rules of the Postgres repository without
// lease expiry.
type fakePayouts struct {
	mu       sync.Mutex
	pending  []domain.Payout
	claims   map[int64]string
	paid     map[int64]bool
	released []string
	err      error
}

func (f *fakePayouts) Claim(_ context.Context, c repository.PayoutClaim) ([]domain.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.claims == nil {
		f.claims = make(map[int64]string)
	}
	var out []domain.Payout
	for _, p := range f.pending {
		if p.CompanyID != c.CompanyID || f.paid[p.ID] {
			continue
		}
		if c.PayoutID != 0 && p.ID != c.PayoutID {
			continue
		}
		if holder, ok := f.claims[p.ID]; ok && holder != c.Token {
			continue
		}
		f.claims[p.ID] = c.Token
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePayouts) Release(_ context.Context, companyID int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pending {
		if p.CompanyID == companyID && !f.paid[p.ID] && f.claims[p.ID] == token {
			delete(f.claims, p.ID)
		}
	}
	f.released = append(f.released, token)
	return nil
}

func (f *fakePayouts) link(token string, payoutIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range payoutIDs {
		if f.paid[id] || f.claims[id] != token {
			return fmt.Errorf("link payouts: %w", repository.ErrPayoutsNotClaimed)
		}
	}
	if f.paid == nil {
		f.paid = make(map[int64]bool)
	}
	for _, id := range payoutIDs {
		f.paid[id] = true
	}
	return nil
}

func (f *fakePayouts) holder(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id]
}

type fakePayments struct {
	mu        sync.Mutex
	records   map[string]*domain.PaymentRecord
	linked    []int64
	recordErr error
	// payouts, when set, enforces that linked payouts are claimed by the
	// record's idempotency key.
	payouts *fakePayouts
}

func newFakePayments() *fakePayments {
	return &fakePayments{records: make(map[string]*domain.PaymentRecord)}
}

func (f *fakePayments) RecordRun(_ context.Context, record *domain.PaymentRecord, payoutIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	if f.payouts != nil {
		if err := f.payouts.link(record.IdempotencyKey, payoutIDs); err != nil {
			return err
		}
	}
	record.ID = int64(len(f.records) + 1)
	copied := *record
	f.records[record.TransactionID] = &copied
	f.linked = append(f.linked, payoutIDs...)
	return nil
}

func (f *fakePayments) UpdateStatus(_ context.Context, transactionID string, from, to domain.PaymentStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[transactionID]
	if !ok {
		return pgx.ErrNoRows
	}
	if rec.Status != from {
		return repository.ErrStatusConflict
	}
	rec.Status = to
	rec.FailureReason = reason
	return nil
}

func (f *fakePayments) GetByTransactionID(_ context.Context, transactionID string) (*domain.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[transactionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *rec
	return &copied, nil
}

type fakeSources struct {
	mu        sync.Mutex
	byCompany map[int64]*domain.PaymentSource
}

func newFakeSources(sources ...*domain.PaymentSource) *fakeSources {
	f := &fakeSources{byCompany: make(map[int64]*domain.PaymentSource)}
	for _, s := range sources {
		f.byCompany[s.CompanyID] = s
	}
	return f
}

func (f *fakeSources) Get(_ context.Context, companyID int64) (*domain.PaymentSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byCompany[companyID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSources) Upsert(_ context.Context, source *domain.PaymentSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *source
	f.byCompany[source.CompanyID] = &copied
	return nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	requests  []payment.BulkPaymentRequest
	singles   []payment.SinglePaymentRequest
	cards     []payment.Card
	status    domain.PaymentStatus
	err       error
	cardToken string
	// delay holds every payment call before it is answered.
	delay time.Duration
	// onSubmit runs after a bulk payment is received.
	onSubmit func()
}

func (p *fakeProcessor) PayNow(_ context.Context, req payment.SinglePaymentRequest) (*payment.ProcessorResponse, error) {
	return p.single(req, domain.PaymentStatusProcessing)
}

func (p *fakeProcessor) SchedulePayment(_ context.Context, req payment.SinglePaymentRequest) (*payment.ProcessorResponse, error) {
	return p.single(req, domain.PaymentStatusScheduled)
}

func (p *fakeProcessor) single(req payment.SinglePaymentRequest, accepted domain.PaymentStatus) (*payment.ProcessorResponse, error) {
	time.Sleep(p.delay)
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
	return &payment.ProcessorResponse{Status: status, TransactionID: fmt.Sprintf("fp_single_%d", len(p.singles))}, nil
}

func (p *fakeProcessor) submissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests) + len(p.singles)
}

func (p *fakeProcessor) SubmitBulkPayment(_ context.Context, req payment.BulkPaymentRequest) (*payment.ProcessorResponse, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.onSubmit != nil {
		p.onSubmit()
	}
	if p.err != nil {
		return nil, p.err
	}
	status := p.status
	if status == "" {
		status = domain.PaymentStatusSuccess
	}
	return &payment.ProcessorResponse{Status: status, TransactionID: fmt.Sprintf("fp_tx_%d", len(p.requests))}, nil
}

func (p *fakeProcessor) AssociateCard(_ context.Context, customerID string, card payment.Card) (*payment.CardAssociation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cards = append(p.cards, card)
	if p.err != nil {
		return nil, p.err
	}
	return &payment.CardAssociation{CustomerID: customerID, Token: p.cardToken, Status: "associated"}, nil
}

type fakeAttempts struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeAttempts) Claim(_ context.Context, scope, requestKey, candidate string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]string)
	}
	k := scope + "/" + requestKey
	if existing, ok := f.keys[k]; ok {
		return existing, nil
	}
	f.keys[k] = candidate
	return candidate, nil
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

func (a *captureAuditor) byAction(action domain.AuditAction) []domain.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range a.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
