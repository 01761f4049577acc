package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verigate/verigate/internal/model"
)

var (
	// ErrNotFound means no session exists for the token. Callers treat it the
	// same as an expired session but log the two cases distinctly.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicateToken means the token key already exists. Tokens carry 256
	// bits of randomness, so a collision is a generation bug, not a normal
	// error path.
	ErrDuplicateToken = errors.New("duplicate session token")
)

// sqliteTime is the layout sqlite's datetime() produces. Comparisons against
// created_at are done with strings in this layout so they collate correctly.
const sqliteTime = "2006-01-02 15:04:05"

// SessionStore is the durable record of verification sessions, keyed by
// token. The status transition is the only mutation beyond creation, and the
// single serialization point between concurrent submissions.
type SessionStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewSessionStore(db *sql.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{db: db, ttl: ttl}
}

const sessionCols = `id, token, subject_id, status, client_ip, user_agent, record, created_at, completed_at`

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	var record sql.NullString
	var completedAt sql.NullTime

	err := scanner.Scan(
		&s.ID, &s.Token, &s.SubjectID, &s.Status, &s.ClientIP,
		&s.UserAgent, &record, &s.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if record.Valid {
		s.Record = json.RawMessage(record.String)
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return &s, nil
}

// Create inserts a new pending session for the token/subject pair.
func (s *SessionStore) Create(token, subjectID string) (*model.Session, error) {
	result, err := s.db.Exec(
		`INSERT INTO sessions (token, subject_id, status) VALUES (?, ?, ?)`,
		token, subjectID, model.StatusPending,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateToken
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("read back session: %w", err)
	}
	return sess, nil
}

// GetByToken returns the session for a token. TTL is evaluated lazily: a
// pending session older than the configured window is reported as expired
// even if no write has recorded that yet.
func (s *SessionStore) GetByToken(token string) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE token = ?`, token)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.Status == model.StatusPending && time.Since(sess.CreatedAt) > s.ttl {
		sess.Status = model.StatusExpired
	}
	return sess, nil
}

// Transition performs an atomic compare-and-set on the session status.
// It returns false when the current status no longer matches from — the
// normal signal that a concurrent submission already won, not an error.
// Leaving pending additionally requires the row to be younger than the TTL,
// so a stale pending session can never be completed.
//
// When to is completed, rec must be non-nil; the record, the resolved client
// address, and the user agent are written by the same UPDATE that flips the
// status, so the record is durable before anyone can observe the completion.
func (s *SessionStore) Transition(token, from, to string, rec *model.VerificationRecord) (bool, error) {
	set := `status = ?`
	args := []any{to}

	if to == model.StatusCompleted {
		if rec == nil {
			return false, errors.New("transition to completed requires a record")
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return false, fmt.Errorf("marshal record: %w", err)
		}
		set += `, record = ?, client_ip = ?, user_agent = ?, completed_at = ?`
		args = append(args, string(data), rec.Server.IP.Address, rec.Server.UserAgent,
			rec.CompletedAt.UTC().Format(sqliteTime))
	}

	query := `UPDATE sessions SET ` + set + ` WHERE token = ? AND status = ?`
	args = append(args, token, from)

	if from == model.StatusPending {
		query += ` AND created_at > ?`
		args = append(args, time.Now().UTC().Add(-s.ttl).Format(sqliteTime))
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ExpireStale records the expired status for pending sessions past the TTL.
// Correctness never depends on this running; reads and transitions already
// treat stale pending rows as expired.
func (s *SessionStore) ExpireStale() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE sessions SET status = ? WHERE status = ? AND created_at <= ?`,
		model.StatusExpired, model.StatusPending,
		time.Now().UTC().Add(-s.ttl).Format(sqliteTime),
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of sessions in the given status, without
// lazy TTL evaluation. Used by the health endpoint and tests.
func (s *SessionStore) CountByStatus(status string) (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}
