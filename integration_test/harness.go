package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"waflow/internal/database"
	"waflow/internal/events"
	"waflow/internal/models"
	"waflow/internal/queue"
	"waflow/internal/ratelimit"
	"waflow/internal/service"
	"waflow/pkg/whatsapp"
	"waflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment wires the full pipeline against a real sqlite database and
// a mock provider API: ingestion gate, queue workers, flow poller and
// dispatcher all run for real, so a test drives the same path production
// traffic takes.
type TestEnvironment struct {
	t *testing.T

	DB         *database.Database
	Queue      queue.Queue
	Bus        events.Bus
	Limiter    *ratelimit.Limiter
	Resolver   *service.TenantResolver
	Triggers   *service.FlowTrigger
	Processor  *service.EventProcessor
	Engine     *service.FlowEngine
	Poller     *service.FlowPoller
	Dispatcher *service.MessageDispatcher
	Ingest     *service.IngestService
	Provider   *ProviderMock

	cancel context.CancelFunc
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "waflow-integration.db"))
	require.NoError(t, err)

	bus, err := events.NewBus(models.EventsConfig{}, logger)
	require.NoError(t, err)

	q, err := queue.New(models.QueueConfig{MaxAttempts: 3, BufferSize: 256}, logger)
	require.NoError(t, err)

	provider := newProviderMock()

	limiter := ratelimit.NewLimiter(db, ratelimit.Config{DefaultPerMinute: 60}, logger)
	resolver := service.NewTenantResolver(db, logger)
	triggers := service.NewFlowTrigger(db, logger)
	processor := service.NewEventProcessor(db, resolver, triggers, bus,
		models.ProcessorConfig{Workers: 2, EventsPerSecond: 500}, 3, logger)

	waClient := whatsapp.NewClientWithLogger(provider.server.URL, &http.Client{Timeout: 5 * time.Second}, logger)
	dispatcher := service.NewMessageDispatcher(db, limiter, waClient,
		models.ProviderConfig{BreakerFailureThreshold: 10, BreakerCooldownSec: 1}, bus, logger)

	engine := service.NewFlowEngine(db, q, bus, logger)
	poller := service.NewFlowPoller(db, engine, models.FlowsConfig{
		PollIntervalMs: 25,
		ClaimBatchSize: 16,
		MaxNodeVisits:  64,
	}, logger)

	ingest := service.NewIngestService(db, q, resolver, "integration-verify-token", logger)

	env := &TestEnvironment{
		t:          t,
		DB:         db,
		Queue:      q,
		Bus:        bus,
		Limiter:    limiter,
		Resolver:   resolver,
		Triggers:   triggers,
		Processor:  processor,
		Engine:     engine,
		Poller:     poller,
		Dispatcher: dispatcher,
		Ingest:     ingest,
		Provider:   provider,
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel

	require.NoError(t, q.Subscribe(queue.KindRawEvent, 2, func(ctx context.Context, job queue.Job) error {
		return processor.ProcessRawEvent(ctx, job.ID)
	}))
	require.NoError(t, q.Subscribe(queue.KindDispatchMessage, 2, func(ctx context.Context, job queue.Job) error {
		return dispatcher.DispatchMessage(ctx, job.ID)
	}))
	require.NoError(t, q.Start(ctx))
	require.NoError(t, poller.Start(ctx))

	t.Cleanup(func() {
		cancel()
		env.Poller.Stop()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = q.Stop(stopCtx)
		_ = bus.Close()
		_ = db.Close()
		provider.server.Close()
	})

	return env
}

// SeedTenant creates an active tenant with a valid credential. The routing
// key doubles as the provider phone number id in webhook metadata.
func (env *TestEnvironment) SeedTenant(routingKey string) *models.Tenant {
	env.t.Helper()
	ctx := context.Background()

	tenant := &models.Tenant{
		Name:            "Integration Tenant " + routingKey,
		RoutingKey:      routingKey,
		RateLimitPerMin: 60,
		IsActive:        true,
	}
	require.NoError(env.t, env.DB.SaveTenant(ctx, tenant))

	cred := &models.Credential{
		TenantID:      tenant.ID,
		AccessToken:   "integration-access-token",
		PhoneNumberID: routingKey,
		IsValid:       true,
	}
	require.NoError(env.t, env.DB.SaveCredential(ctx, cred))
	return tenant
}

// SeedKeywordFlow stores an active KEYWORD flow for the tenant.
func (env *TestEnvironment) SeedKeywordFlow(tenantID, name, keywords string, def *models.FlowDefinition) *models.Flow {
	env.t.Helper()

	raw, err := json.Marshal(def)
	require.NoError(env.t, err)

	flow := &models.Flow{
		TenantID:        tenantID,
		Name:            name,
		TriggerType:     models.FlowTriggerKeyword,
		TriggerKeywords: keywords,
		Definition:      raw,
		IsActive:        true,
	}
	require.NoError(env.t, env.DB.SaveFlow(context.Background(), flow))
	return flow
}

// Deliver pushes one webhook body through the ingestion gate, the same entry
// point the HTTP handler uses after signature verification.
func (env *TestEnvironment) Deliver(body []byte) *service.IngestResult {
	env.t.Helper()
	result, err := env.Ingest.HandleDelivery(context.Background(), body)
	require.NoError(env.t, err)
	return result
}

// WaitFor polls until the condition holds. The pipeline is asynchronous end
// to end, so assertions about its output go through here.
func (env *TestEnvironment) WaitFor(cond func() bool, msgAndArgs ...interface{}) {
	env.t.Helper()
	require.Eventually(env.t, cond, 10*time.Second, 25*time.Millisecond, msgAndArgs...)
}

// ProviderMock fakes the provider graph API send endpoint. It hands out
// sequential message ids and records every accepted request.
type ProviderMock struct {
	mu       sync.Mutex
	requests []ProviderRequest
	nextID   int

	failRemaining int
	failStatus    int
	failBody      string

	server *httptest.Server
}

// ProviderRequest is one recorded send call.
type ProviderRequest struct {
	PhoneNumberID string
	AccessToken   string
	Body          types.SendRequest
	AssignedID    string
}

func newProviderMock() *ProviderMock {
	m := &ProviderMock{}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *ProviderMock) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/messages") {
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRemaining > 0 {
		m.failRemaining--
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.failStatus)
		_, _ = w.Write([]byte(m.failBody))
		return
	}

	var body types.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Path shape: /v19.0/{phone_number_id}/messages
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	phoneNumberID := ""
	if len(parts) >= 2 {
		phoneNumberID = parts[len(parts)-2]
	}

	m.nextID++
	assigned := fmt.Sprintf("wamid.out-%d", m.nextID)
	m.requests = append(m.requests, ProviderRequest{
		PhoneNumberID: phoneNumberID,
		AccessToken:   strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		Body:          body,
		AssignedID:    assigned,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.SendResponse{
		MessagingProduct: "whatsapp",
		Messages:         []types.ResponseMessage{{ID: assigned}},
	})
}

// FailNext makes the next n send calls answer with the given status and body.
func (m *ProviderMock) FailNext(n, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemaining = n
	m.failStatus = status
	m.failBody = body
}

// Requests returns a copy of the recorded send calls.
func (m *ProviderMock) Requests() []ProviderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// SendCount reports how many sends the mock accepted.
func (m *ProviderMock) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CountBody counts accepted sends whose text (plain or interactive) equals s.
func (m *ProviderMock) CountBody(s string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if req.Body.Text != nil && req.Body.Text.Body == s {
			n++
		}
		if req.Body.Interactive != nil && req.Body.Interactive.Body.Text == s {
			n++
		}
	}
	return n
}
