// Package aggregate merges server-observed request metadata with the client
// payload into one immutable verification record.
package aggregate

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verigate/verigate/internal/geo"
	"github.com/verigate/verigate/internal/middleware"
	"github.com/verigate/verigate/internal/model"
)

// reservedKeys are record fields a client payload may not shadow. Client data
// is an untrusted hint; server-observed values always win on collision.
var reservedKeys = map[string]struct{}{
	"id":           {},
	"token":        {},
	"subject_id":   {},
	"server":       {},
	"client":       {},
	"completed_at": {},
	"verification": {},
}

// secret-bearing headers stay out of the snapshot
var redactedHeaders = map[string]struct{}{
	"Cookie":        {},
	"Authorization": {},
	"X-Api-Secret":  {},
}

// ServerMetadataFromRequest snapshots everything the server observed about
// the submitting request: resolved client address (forwarded-for preferred,
// first entry wins), derived geolocation, and a protocol/host/header snapshot.
func ServerMetadataFromRequest(r *http.Request, resolver geo.Resolver) model.ServerMetadata {
	addr := middleware.RealIP(r)

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		if _, redacted := redactedHeaders[name]; redacted {
			continue
		}
		headers[name] = r.Header.Get(name)
	}

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}

	return model.ServerMetadata{
		IP: model.IPInfo{
			Address:   addr,
			Forwarded: r.Header.Get("X-Forwarded-For"),
			Remote:    r.RemoteAddr,
		},
		Geo: resolver.Lookup(addr),
		Network: model.NetworkInfo{
			Headers:  headers,
			Protocol: proto,
			Secure:   r.TLS != nil,
			Hostname: r.Host,
		},
		UserAgent: r.UserAgent(),
		Timestamp: time.Now().UTC(),
	}
}

// Aggregate constructs the immutable record for a completed session. Pure
// merge, no I/O, no validation: the caller has already won the
// pending-to-completed transition gate before persisting the result.
//
// The client payload is stored as-is under its own key, except that top-level
// keys colliding with the record's own fields are dropped so client data can
// never masquerade as server-observed data.
func Aggregate(session *model.Session, server model.ServerMetadata, clientPayload map[string]any) *model.VerificationRecord {
	client := make(map[string]any, len(clientPayload))
	for k, v := range clientPayload {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		client[k] = v
	}

	return &model.VerificationRecord{
		ID:          uuid.NewString(),
		Token:       session.Token,
		SubjectID:   session.SubjectID,
		Server:      server,
		Client:      client,
		CompletedAt: time.Now().UTC(),
	}
}
