package model

import (
	"encoding/json"
	"time"
)

// Session status values. A session is created pending, completes at most once,
// and is treated as expired after the configured TTL.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

type Session struct {
	ID          int64           `json:"id"`
	Token       string          `json:"token"`
	SubjectID   string          `json:"subject_id"`
	Status      string          `json:"status"`
	ClientIP    string          `json:"client_ip"`
	UserAgent   string          `json:"user_agent"`
	Record      json.RawMessage `json:"record,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
