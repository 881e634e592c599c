package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmbeddedMigrations(t *testing.T) {
	tables := Tables{Pending: "pending_x", Summary: "summary_x", Group: "group_x"}
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		raw, err := migrationsFS.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		sql, err := Render(string(raw), tables)
		require.NoError(t, err, e.Name())
		assert.NotContains(t, sql, "{{", e.Name())
	}
}

func TestRenderUsesConfiguredNames(t *testing.T) {
	sql, err := Render("CREATE TABLE {{.Pending}} (); CREATE TABLE {{.Group}}_members ();", Tables{Pending: "p", Group: "g"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(sql, "CREATE TABLE p ()"))
	assert.True(t, strings.Contains(sql, "CREATE TABLE g_members ()"))
}

func TestRenderRejectsUnknownField(t *testing.T) {
	_, err := Render("{{.Nope}}", Tables{})
	assert.Error(t, err)
}
