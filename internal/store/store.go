// Package store persists users and menu generations in the relational store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"translatemenu/internal/preferences"
)

var ErrNotFound = errors.New("not found")

type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type User struct {
	ExternalID  string                   `json:"id"`
	Email       string                   `json:"email"`
	IsPro       bool                     `json:"isPro"`
	Preferences *preferences.Preferences `json:"preferences"`
}

type Generation struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// q rewrites "?" placeholders for drivers that use "$n".
func (s *Store) q(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateUser inserts the user or refreshes its email when it already exists.
func (s *Store) CreateUser(ctx context.Context, externalID, email string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return errors.New("empty user id")
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE external_id = ?`), email, externalID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO users (external_id, email, is_pro) VALUES (?, ?, ?)`), externalID, email, false)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, externalID string) (*User, error) {
	var (
		u     User
		email sql.NullString
		prefs sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT external_id, email, is_pro, preferences FROM users WHERE external_id = ?`), externalID).
		Scan(&u.ExternalID, &email, &u.IsPro, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Email = email.String
	if u.Preferences, err = decodePreferences(prefs); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPreferences returns nil without error when the user has none saved.
func (s *Store) GetPreferences(ctx context.Context, externalID string) (*preferences.Preferences, error) {
	var prefs sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT preferences FROM users WHERE external_id = ?`), externalID).Scan(&prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return decodePreferences(prefs)
}

// SavePreferences stores p on the user row, creating the row when the
// identity webhook has not delivered it yet.
func (s *Store) SavePreferences(ctx context.Context, externalID string, p preferences.Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET preferences = ?, updated_at = CURRENT_TIMESTAMP WHERE external_id = ?`), string(raw), externalID)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO users (external_id, email, is_pro, preferences) VALUES (?, ?, ?, ?)`), externalID, "", false, string(raw))
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("insert preferences: %w", err)
	}
	// MySQL reports zero affected rows when the value is unchanged.
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE users SET preferences = ? WHERE external_id = ?`), string(raw), externalID)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

// SetProByEmail flags every user with email and reports how many matched.
func (s *Store) SetProByEmail(ctx context.Context, email string, pro bool) (int64, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, errors.New("empty email")
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET is_pro = ?, updated_at = CURRENT_TIMESTAMP WHERE LOWER(email) = LOWER(?)`), pro, email)
	if err != nil {
		return 0, fmt.Errorf("set pro: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) CreateGeneration(ctx context.Context, userID string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO generations (id, user_id, data) VALUES (?, ?, ?)`), id, userID, string(raw))
	if err != nil {
		return "", fmt.Errorf("insert generation: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateGeneration(ctx context.Context, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE generations SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`), string(raw), id)
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && s.dialect != MySQL {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var (
		g    Generation
		data string
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, user_id, data FROM generations WHERE id = ?`), id).Scan(&g.ID, &g.UserID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	g.Data = json.RawMessage(data)
	return &g, nil
}

func decodePreferences(raw sql.NullString) (*preferences.Preferences, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var p preferences.Preferences
	if err := json.Unmarshal([]byte(raw.String), &p); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
