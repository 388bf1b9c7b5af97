package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translatemenu/internal/db"
	"translatemenu/internal/preferences"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	s := New(conn, SQLite)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()), "migrations must be re-runnable")
	return s
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetUser(ctx, "user_1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateUser(ctx, "user_1", "a@example.com"))
	require.NoError(t, s.CreateUser(ctx, "user_1", "b@example.com"), "replayed webhook updates email")

	u, err := s.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", u.Email)
	assert.False(t, u.IsPro)
	assert.Nil(t, u.Preferences)

	assert.Error(t, s.CreateUser(ctx, " ", "x@example.com"))
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.GetPreferences(ctx, "user_1")
	require.NoError(t, err)
	assert.Nil(t, p)

	want := preferences.Preferences{
		Country:             "Japan",
		Language:            "Japanese",
		SelectedPreferences: json.RawMessage(`{"diet":["vegetarian"]}`),
	}
	// no user row yet: saving creates one
	require.NoError(t, s.SavePreferences(ctx, "user_1", want))
	require.NoError(t, s.SavePreferences(ctx, "user_1", want))

	got, err := s.GetPreferences(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Country, got.Country)
	assert.JSONEq(t, string(want.SelectedPreferences), string(got.SelectedPreferences))

	// a later identity webhook keeps the saved preferences
	require.NoError(t, s.CreateUser(ctx, "user_1", "a@example.com"))
	u, err := s.GetUser(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, u.Preferences)
	assert.Equal(t, "Japanese", u.Preferences.Language)
}

func TestSetProByEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(ctx, "user_1", "Pro@Example.com"))
	require.NoError(t, s.CreateUser(ctx, "user_2", "free@example.com"))

	n, err := s.SetProByEmail(ctx, "pro@example.com", true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	u, err := s.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, u.IsPro)
	u, err = s.GetUser(ctx, "user_2")
	require.NoError(t, err)
	assert.False(t, u.IsPro)

	n, err = s.SetProByEmail(ctx, "nobody@example.com", true)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateGeneration(ctx, "user_1", map[string]any{"isMenu": true, "menuItems": []any{}})
	require.NoError(t, err)

	g, err := s.GetGeneration(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user_1", g.UserID)
	assert.JSONEq(t, `{"isMenu":true,"menuItems":[]}`, string(g.Data))

	require.NoError(t, s.UpdateGeneration(ctx, id, map[string]any{"isMenu": true, "menuItems": []any{map[string]any{"name": "Ramen"}}}))
	g, err = s.GetGeneration(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, string(g.Data), "Ramen")

	_, err = s.GetGeneration(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetGeneration(ctx, "6f1c2a64-8f5e-4f7a-9d5c-1f0f4f2d9e11")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateGeneration(ctx, "6f1c2a64-8f5e-4f7a-9d5c-1f0f4f2d9e11", map[string]any{}), ErrNotFound)
}

func TestPostgresPlaceholders(t *testing.T) {
	s := &Store{dialect: Postgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", s.q("UPDATE t SET a = ? WHERE b = ?"))
	s.dialect = MySQL
	assert.Equal(t, "SELECT ?", s.q("SELECT ?"))
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "mysql duplicate", err: &mysql.MySQLError{Number: 1062}, want: true},
		{name: "mysql other", err: &mysql.MySQLError{Number: 1045}},
		{name: "postgres unique", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: true},
		{name: "postgres other", err: &pgconn.PgError{Code: pgerrcode.NotNullViolation}},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: users.external_id (1555)"), want: true},
		{name: "other", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
