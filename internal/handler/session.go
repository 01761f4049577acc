package handler

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/verigate/verigate/internal/aggregate"
	"github.com/verigate/verigate/internal/delivery"
	"github.com/verigate/verigate/internal/geo"
	"github.com/verigate/verigate/internal/model"
	"github.com/verigate/verigate/internal/store"
	"github.com/verigate/verigate/internal/token"
	"github.com/verigate/verigate/internal/websocket"
)

// maxSubmissionBytes caps the client payload. Oversized bodies are a client
// error, not a reason to buffer unbounded input.
const maxSubmissionBytes = 10 << 20

//go:embed templates/*.html
var templateFS embed.FS

// SessionHandler exposes the session lifecycle over HTTP: issuance for the
// operator, the verification page and submission endpoint for the subject.
type SessionHandler struct {
	authority *token.Authority
	store     *store.SessionStore
	resolver  geo.Resolver
	pipeline  *delivery.Pipeline
	hub       *websocket.Hub
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

func NewSessionHandler(
	authority *token.Authority,
	st *store.SessionStore,
	resolver geo.Resolver,
	pipeline *delivery.Pipeline,
	hub *websocket.Hub,
	baseURL string,
	logger *slog.Logger,
) *SessionHandler {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/*.html"))
	return &SessionHandler{
		authority: authority,
		store:     st,
		resolver:  resolver,
		pipeline:  pipeline,
		hub:       hub,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		templates: tmpl,
		logger:    logger,
	}
}

// Create issues a token for a subject and returns the link to hand out.
// The route is gated by the shared-secret middleware.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID string `json:"subject_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)

	sess, err := h.authority.Issue(req.SubjectID)
	if errors.Is(err, token.ErrInvalidSubject) {
		writeError(w, http.StatusBadRequest, "subject_id is missing or malformed")
		return
	}
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("session", "created", sess.SubjectID, nil))

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"token":      sess.Token,
		"verify_url": h.verifyURL(sess),
	})
}

func (h *SessionHandler) verifyURL(sess *model.Session) string {
	q := url.Values{}
	q.Set("token", sess.Token)
	q.Set("subject_id", sess.SubjectID)
	return fmt.Sprintf("%s/verify?%s", h.baseURL, q.Encode())
}

// VerifyPage serves the verification page after re-validating the token.
// Invalid tokens get an explicit rejection, never a silent success page.
func (h *SessionHandler) VerifyPage(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	subjectID := r.URL.Query().Get("subject_id")
	if tok == "" || subjectID == "" {
		http.Error(w, "Missing request parameters", http.StatusBadRequest)
		return
	}

	result, err := h.authority.Validate(tok, subjectID)
	if err != nil {
		h.logger.Error("validate token", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if !result.Valid {
		if result.Reason == token.ReasonMalformed {
			http.Error(w, "Invalid request parameters", http.StatusBadRequest)
			return
		}
		http.Error(w, "Verification link is invalid or has expired", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	h.templates.ExecuteTemplate(w, "verify.html", map[string]string{
		"Token":     tok,
		"SubjectID": subjectID,
	})
}

// SuccessPage is shown after a completed submission.
func (h *SessionHandler) SuccessPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	h.templates.ExecuteTemplate(w, "success.html", nil)
}

// Submit re-validates the token, wins (or loses) the atomic completion, and
// hands the aggregated record to the delivery pipeline. The response never
// waits on downstream delivery.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

	var req struct {
		Token         string         `json:"token"`
		SubjectID     string         `json:"subject_id"`
		ClientPayload map[string]any `json:"client_payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Token == "" || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	result, err := h.authority.Validate(req.Token, req.SubjectID)
	if err != nil {
		h.logger.Error("validate token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !result.Valid {
		if result.Reason == token.ReasonMalformed {
			writeError(w, http.StatusBadRequest, "invalid request parameters")
			return
		}
		writeError(w, http.StatusForbidden, "invalid token")
		return
	}

	meta := aggregate.ServerMetadataFromRequest(r, h.resolver)
	rec := aggregate.Aggregate(result.Session, meta, req.ClientPayload)

	// The CAS decides the winner under concurrent submissions; the record is
	// durable the moment it returns true. Losers see the token as used.
	ok, err := h.store.Transition(req.Token, model.StatusPending, model.StatusCompleted, rec)
	if err != nil {
		h.logger.Error("complete session", "error", err, "subject_id", req.SubjectID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		h.logger.Warn("submission lost completion race", "subject_id", req.SubjectID)
		writeError(w, http.StatusForbidden, "invalid token")
		return
	}

	h.pipeline.Enqueue(rec)
	h.hub.Broadcast(websocket.NewMessage("session", "completed", rec.SubjectID,
		map[string]any{"record_id": rec.ID}))

	h.logger.Info("session completed", "subject_id", rec.SubjectID, "record_id", rec.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Verification completed successfully",
		"redirect": "/success",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
