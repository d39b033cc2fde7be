package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"waflow/internal/database"
	apperrors "waflow/internal/errors"
	"waflow/internal/models"
	"waflow/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServiceDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "waflow-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedServiceTenant(t *testing.T, db *database.Database) *models.Tenant {
	t.Helper()
	tenant := testTenant()
	tenant.ID = ""
	require.NoError(t, db.SaveTenant(context.Background(), tenant))
	return tenant
}

func deliveryBody(routingKey, from, msgID, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001111", "routing_key": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ada"}}],
					"messages": [{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, routingKey, from, from, msgID, text))
}

func TestVerifyHandshake(t *testing.T) {
	gate := NewIngestService(nil, nil, nil, "s3cret-token", quietLogger())

	tests := []struct {
		name      string
		mode      string
		token     string
		challenge string
		wantOK    bool
	}{
		{"valid", "subscribe", "s3cret-token", "12345", true},
		{"wrong mode", "unsubscribe", "s3cret-token", "12345", false},
		{"wrong token", "subscribe", "guess", "12345", false},
		{"empty token", "subscribe", "", "12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			echo, ok := gate.VerifyHandshake(tt.mode, tt.token, tt.challenge)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.challenge, echo)
			} else {
				assert.Empty(t, echo)
			}
		})
	}
}

func TestVerifyHandshake_UnconfiguredTokenNeverVerifies(t *testing.T) {
	gate := NewIngestService(nil, nil, nil, "", quietLogger())
	_, ok := gate.VerifyHandshake("subscribe", "", "12345")
	assert.False(t, ok)
}

func TestHandleDelivery_PersistsAndEnqueues(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	q := &fakeQueue{}
	resolver := NewTenantResolver(db, quietLogger())
	gate := NewIngestService(db, q, resolver, "tok", quietLogger())

	ctx := context.Background()
	result, err := gate.HandleDelivery(ctx, deliveryBody(tenant.RoutingKey, "15550002222", "wamid.in-1", "help me"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Zero(t, result.Unrouted)
	assert.Zero(t, result.Failed)

	jobs := q.jobsOf(queue.KindRawEvent)
	require.Len(t, jobs, 1)

	event, err := db.GetRawEvent(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.RawEventStatusPending, event.Status)
	require.NotNil(t, event.TenantID)
	assert.Equal(t, tenant.ID, *event.TenantID)
	assert.Equal(t, tenant.RoutingKey, event.RoutingKey)
	assert.Contains(t, string(event.Payload), "wamid.in-1")
	assert.WithinDuration(t, time.Now().UTC(), event.CreatedAt, 5*time.Second)
}

func TestHandleDelivery_UnroutedKeyStoredAsFailed(t *testing.T) {
	db := newServiceDB(t)
	seedServiceTenant(t, db)
	q := &fakeQueue{}
	resolver := NewTenantResolver(db, quietLogger())
	gate := NewIngestService(db, q, resolver, "tok", quietLogger())

	ctx := context.Background()
	result, err := gate.HandleDelivery(ctx, deliveryBody("00000000000", "15550002222", "wamid.in-2", "hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unrouted)
	assert.Zero(t, result.Accepted)
	assert.Empty(t, q.jobsOf(queue.KindRawEvent))
}

func TestHandleDelivery_MalformedBody(t *testing.T) {
	db := newServiceDB(t)
	resolver := NewTenantResolver(db, quietLogger())
	gate := NewIngestService(db, &fakeQueue{}, resolver, "tok", quietLogger())

	_, err := gate.HandleDelivery(context.Background(), []byte("{not json"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMalformedPayload, apperrors.GetCode(err))
}

func TestHandleDelivery_MixedValues(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	q := &fakeQueue{}
	resolver := NewTenantResolver(db, quietLogger())
	gate := NewIngestService(db, q, resolver, "tok", quietLogger())

	body := []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [
			{"id": "e1", "changes": [
				{"field": "messages", "value": {"metadata": {"routing_key": %q}, "messages": [{"from": "15550002222", "id": "wamid.a", "type": "text", "text": {"body": "hi"}}]}},
				{"field": "messages", "value": {"metadata": {"routing_key": "unknown-key"}, "messages": [{"from": "15550003333", "id": "wamid.b", "type": "text", "text": {"body": "yo"}}]}}
			]},
			{"id": "e2", "changes": [
				{"field": "messages", "value": {"metadata": {"routing_key": %q}, "statuses": [{"id": "wamid.out", "status": "delivered", "timestamp": "1700000001", "recipient_id": "15550002222"}]}}
			]}
		]
	}`, tenant.RoutingKey, tenant.RoutingKey))

	result, err := gate.HandleDelivery(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 1, result.Unrouted)
	assert.Len(t, q.jobsOf(queue.KindRawEvent), 2)
}

func TestHandleDelivery_EnqueueFailureAbsorbed(t *testing.T) {
	db := newServiceDB(t)
	tenant := seedServiceTenant(t, db)
	q := &fakeQueue{enqueueErr: fmt.Errorf("broker down")}
	resolver := NewTenantResolver(db, quietLogger())
	gate := NewIngestService(db, q, resolver, "tok", quietLogger())

	result, err := gate.HandleDelivery(context.Background(), deliveryBody(tenant.RoutingKey, "15550002222", "wamid.in-3", "ping"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Accepted)
}
