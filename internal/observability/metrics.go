package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                  sync.Mutex
	requestCount        map[string]int64
	errorCount          map[string]int64
	rejections          map[string]int64
	dispatches          map[string]int64
	signatureFailures   int64
	integrityViolations int64
	auditDrops          int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests            map[string]int64 `json:"requests"`
	Errors              map[string]int64 `json:"errors"`
	TokenRejections     map[string]int64 `json:"token_rejections"`
	Dispatches          map[string]int64 `json:"dispatches"`
	SignatureFailures   int64            `json:"signature_failures"`
	IntegrityViolations int64            `json:"integrity_violations"`
	AuditDrops          int64            `json:"audit_drops"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		rejections:   make(map[string]int64),
		dispatches:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordRejection counts a rejected credential by reason.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[reason]++
}

// RecordDispatch counts processor dispatches by outcome.
func (m *Metrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[outcome]++
}

// RecordSignatureFailure counts rejected payment authorizations.
func (m *Metrics) RecordSignatureFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatureFailures++
}

// RecordIntegrityViolation counts webhooks dropped for a bad MAC.
func (m *Metrics) RecordIntegrityViolation() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrityViolations++
}

// RecordAuditDrop counts audit events discarded because the queue was full.
func (m *Metrics) RecordAuditDrop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditDrops++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Requests:            copyCounts(m.requestCount),
		Errors:              copyCounts(m.errorCount),
		TokenRejections:     copyCounts(m.rejections),
		Dispatches:          copyCounts(m.dispatches),
		SignatureFailures:   m.signatureFailures,
		IntegrityViolations: m.integrityViolations,
		AuditDrops:          m.auditDrops,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
