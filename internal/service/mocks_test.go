package service

import (
	"context"
	"sync"

	"waflow/internal/events"
	"waflow/internal/models"
	"waflow/internal/queue"

	"github.com/sirupsen/logrus"
)

// Shared test doubles for the service package. Database-backed services are
// tested against the real sqlite store; these fakes cover the seams where
// tests need to inject failures or capture traffic.

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testTenant() *models.Tenant {
	return &models.Tenant{
		ID:              "tenant-1",
		Name:            "Acme Support",
		RoutingKey:      "15550001111",
		RateLimitPerMin: 60,
		IsActive:        true,
	}
}

type fakeTenantStore struct {
	mu      sync.Mutex
	tenants map[string]*models.Tenant // keyed by routing key
	calls   int
	err     error
}

func newFakeTenantStore(tenants ...*models.Tenant) *fakeTenantStore {
	s := &fakeTenantStore{tenants: make(map[string]*models.Tenant)}
	for _, t := range tenants {
		s.tenants[t.RoutingKey] = t
	}
	return s
}

func (s *fakeTenantStore) GetTenantByRoutingKey(ctx context.Context, routingKey string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tenants[routingKey], nil
}

func (s *fakeTenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for _, t := range s.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (s *fakeTenantStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeTenantStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []queue.Job
	enqueueErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) jobsOf(kind string) []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Job
	for _, j := range q.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

type fakeBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *fakeBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *fakeBus) byType(eventType events.Type) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.published {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
