package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"waflow/internal/database"
	"waflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(filepath.Join(t.TempDir(), "waflow.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, seedDemo(ctx, db))

	tenant, err := db.GetTenantByRoutingKey(ctx, demoRoutingKey)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.True(t, tenant.IsActive)

	cred, err := db.GetActiveCredential(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, cred)

	flows, err := db.GetActiveFlowsByTrigger(ctx, tenant.ID, models.FlowTriggerKeyword)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Contains(t, flows[0].Keywords(), "hello")

	// Seeding twice must not duplicate anything.
	require.NoError(t, seedDemo(ctx, db))
	flows, err = db.GetActiveFlowsByTrigger(ctx, tenant.ID, models.FlowTriggerKeyword)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}

func TestDemoFlowDefinitionIsValid(t *testing.T) {
	raw, err := json.Marshal(demoFlowDefinition())
	require.NoError(t, err)

	def, err := models.ParseFlowDefinition(raw)
	require.NoError(t, err)

	start := def.StartNode()
	require.NotNil(t, start)
	assert.Len(t, def.EdgesFrom(start.ID), 1)
}
