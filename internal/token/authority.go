// Package token issues and validates single-use verification tokens bound to
// a subject identity.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verigate/verigate/internal/model"
	"github.com/verigate/verigate/internal/store"
)

// tokenBytes gives 256 bits of randomness, hex-encoded to 64 characters.
const tokenBytes = 32

const maxSubjectLen = 64

// ErrInvalidSubject is returned by Issue for an empty or malformed subject id.
var ErrInvalidSubject = errors.New("invalid subject id")

// Reason classifies why a token failed validation.
type Reason string

const (
	ReasonMalformed Reason = "malformed"
	ReasonNotFound  Reason = "not_found"
	ReasonExpired   Reason = "expired"
	ReasonUsed      Reason = "already_used"
	ReasonMismatch  Reason = "subject_mismatch"
)

// Result is the outcome of a validation. Invalid tokens are a result, not an
// error; errors are reserved for storage failures.
type Result struct {
	Valid   bool
	Reason  Reason
	Session *model.Session
}

// Authority issues tokens and gates every downstream stage on validation.
// It holds no state of its own; the session store is the source of truth, so
// multiple server instances can share it.
type Authority struct {
	store  *store.SessionStore
	logger *slog.Logger
}

func NewAuthority(st *store.SessionStore, logger *slog.Logger) *Authority {
	return &Authority{store: st, logger: logger}
}

// Issue generates a fresh token and records a pending session bound to the
// subject. The token validates only for this subject, only while pending.
func (a *Authority) Issue(subjectID string) (*model.Session, error) {
	if !validSubjectID(subjectID) {
		return nil, ErrInvalidSubject
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	sess, err := a.store.Create(tok, subjectID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	a.logger.Info("token issued", "subject_id", subjectID)
	return sess, nil
}

// Validate checks a presented token for the given subject. It fails closed:
// unknown token, non-pending status, subject mismatch, and exceeded TTL all
// yield an invalid Result. A non-nil error means storage failed and the
// caller must treat the request as a server error, not a rejection.
//
// Both the page-load path and the submission path call this independently;
// neither may act on a token it has not itself re-validated.
func (a *Authority) Validate(tok, subjectID string) (Result, error) {
	if len(tok) != hex.EncodedLen(tokenBytes) || !isHex(tok) || !validSubjectID(subjectID) {
		return Result{Reason: ReasonMalformed}, nil
	}

	sess, err := a.store.GetByToken(tok)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Warn("validation rejected: token unknown", "subject_id", subjectID)
		return Result{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup token: %w", err)
	}

	// The store lookup is keyed by token, but the comparisons of presented
	// secrets against stored values stay constant-time.
	if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(tok)) != 1 {
		return Result{Reason: ReasonNotFound}, nil
	}

	switch sess.Status {
	case model.StatusExpired:
		a.logger.Warn("validation rejected: token expired", "subject_id", subjectID)
		return Result{Reason: ReasonExpired}, nil
	case model.StatusCompleted:
		a.logger.Warn("validation rejected: token already used", "subject_id", subjectID)
		return Result{Reason: ReasonUsed}, nil
	}

	if subtle.ConstantTimeCompare([]byte(sess.SubjectID), []byte(subjectID)) != 1 {
		a.logger.Warn("validation rejected: subject mismatch", "subject_id", subjectID)
		return Result{Reason: ReasonMismatch}, nil
	}

	return Result{Valid: true, Session: sess}, nil
}

func validSubjectID(s string) bool {
	if s == "" || len(s) > maxSubjectLen {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
