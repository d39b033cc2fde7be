package database

import (
	"context"
	"testing"
	"time"

	"waflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTenant_GetByRoutingKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")

	found, err := db.GetTenantByRoutingKey(ctx, "phone-id-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tenant.ID, found.ID)
	assert.Equal(t, "Acme Support", found.Name)
	assert.True(t, found.IsActive)

	missing, err := db.GetTenantByRoutingKey(ctx, "phone-id-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveTenant_Update(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")

	tenant.Name = "Acme Sales"
	tenant.RateLimitPerMin = 120
	tenant.IsActive = false
	require.NoError(t, db.SaveTenant(ctx, tenant))

	found, err := db.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Acme Sales", found.Name)
	assert.Equal(t, 120, found.RateLimitPerMin)
	assert.False(t, found.IsActive)
}

func TestCredentialLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")

	cred := &models.Credential{
		TenantID:      tenant.ID,
		AccessToken:   "EAAB-secret-token",
		PhoneNumberID: "phone-id-1",
		IsValid:       true,
	}
	require.NoError(t, db.SaveCredential(ctx, cred))

	active, err := db.GetActiveCredential(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, cred.ID, active.ID)

	token, err := db.DecryptAccessToken(active)
	require.NoError(t, err)
	assert.Equal(t, "EAAB-secret-token", token)

	require.NoError(t, db.InvalidateCredential(ctx, cred.ID, "provider returned 401"))

	active, err = db.GetActiveCredential(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestGetActiveCredential_PicksNewest(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")

	old := &models.Credential{
		TenantID:      tenant.ID,
		AccessToken:   "old-token",
		PhoneNumberID: "phone-id-1",
		IsValid:       true,
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, db.SaveCredential(ctx, old))

	fresh := &models.Credential{
		TenantID:      tenant.ID,
		AccessToken:   "fresh-token",
		PhoneNumberID: "phone-id-1",
		IsValid:       true,
	}
	require.NoError(t, db.SaveCredential(ctx, fresh))

	active, err := db.GetActiveCredential(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, fresh.ID, active.ID)
}

func TestCredentialEncryptedAtRest(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAFLOW_ENCRYPTION_SECRET", "this-is-a-very-long-test-secret-key-for-tests")

	db := setupTestDB(t)
	ctx := context.Background()

	tenant := seedTenant(t, db, "phone-id-1")

	cred := &models.Credential{
		TenantID:      tenant.ID,
		AccessToken:   "EAAB-secret-token",
		PhoneNumberID: "phone-id-1",
		IsValid:       true,
	}
	require.NoError(t, db.SaveCredential(ctx, cred))

	var raw string
	err := db.db.QueryRow(`SELECT access_token FROM credentials WHERE id = ?`, cred.ID).Scan(&raw)
	require.NoError(t, err)
	assert.NotEqual(t, "EAAB-secret-token", raw)
	assert.NotContains(t, raw, "secret")

	active, err := db.GetActiveCredential(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, raw, active.AccessToken, "loaded credential keeps the token encrypted")

	token, err := db.DecryptAccessToken(active)
	require.NoError(t, err)
	assert.Equal(t, "EAAB-secret-token", token)
}
