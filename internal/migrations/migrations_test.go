package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInitialSchema(t *testing.T) {
	schema, err := GetInitialSchema()
	require.NoError(t, err)
	require.NotEmpty(t, schema)

	for _, table := range []string{
		"tenants",
		"credentials",
		"contacts",
		"conversations",
		"messages",
		"raw_events",
		"templates",
		"flows",
		"flow_executions",
		"rate_buckets",
	} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table, "schema should create %s", table)
	}
}

func TestSchemaAppliesAndIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "schema-test.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	schema, err := GetInitialSchema()
	require.NoError(t, err)

	_, err = db.Exec(schema)
	require.NoError(t, err)

	// Applying on an existing database must be a no-op, not an error.
	_, err = db.Exec(schema)
	require.NoError(t, err)

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables[name] = true
	}
	require.NoError(t, rows.Err())

	for _, table := range []string{"tenants", "messages", "flows", "flow_executions", "rate_buckets"} {
		assert.True(t, tables[table], "expected table %s", table)
	}
}

func TestMessagesExternalIDUniquePerTenant(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "unique-test.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	schema, err := GetInitialSchema()
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO tenants (id, name, routing_key) VALUES ('t1', 'Acme', '15550001111')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO conversations (id, tenant_id, contact_phone) VALUES ('c1', 't1', '15551234567')`)
	require.NoError(t, err)

	insert := `INSERT INTO messages (id, tenant_id, conversation_id, external_id, direction, type, status, timestamp)
		VALUES (?, 't1', 'c1', ?, 'INBOUND', 'text', 'DELIVERED', CURRENT_TIMESTAMP)`

	_, err = db.Exec(insert, "m1", "wamid.ABC")
	require.NoError(t, err)

	_, err = db.Exec(insert, "m2", "wamid.ABC")
	assert.Error(t, err, "duplicate external id within a tenant must be rejected")

	// Blank external ids are placeholders for not-yet-sent outbound rows
	// and fall outside the partial index.
	_, err = db.Exec(insert, "m3", "")
	require.NoError(t, err)
	_, err = db.Exec(insert, "m4", "")
	assert.NoError(t, err)
}
