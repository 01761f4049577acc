package aggregate

import (
	"net/http/httptest"
	"testing"

	"github.com/verigate/verigate/internal/geo"
	"github.com/verigate/verigate/internal/model"
)

func TestServerMetadataFromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/submissions", nil)
	r.RemoteAddr = "10.0.0.5:41000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set("Cookie", "secret=1")
	r.Header.Set("Authorization", "Bearer x")
	r.Header.Set("X-API-Secret", "hunter2")

	meta := ServerMetadataFromRequest(r, geo.NoopResolver{})

	// First forwarded-for entry wins over the socket address
	if meta.IP.Address != "203.0.113.7" {
		t.Errorf("address = %q, want 203.0.113.7", meta.IP.Address)
	}
	if meta.IP.Remote != "10.0.0.5:41000" {
		t.Errorf("remote = %q, want socket address", meta.IP.Remote)
	}
	if meta.UserAgent != "test-agent" {
		t.Errorf("user_agent = %q, want test-agent", meta.UserAgent)
	}
	if meta.Geo.Country != model.GeoUnknown || meta.Geo.Timezone != model.GeoUnknown {
		t.Errorf("geo = %+v, want unknown sentinels", meta.Geo)
	}
	if meta.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	for _, name := range []string{"Cookie", "Authorization", "X-Api-Secret"} {
		if _, ok := meta.Network.Headers[name]; ok {
			t.Errorf("header %s must not appear in the snapshot", name)
		}
	}
	if meta.Network.Headers["User-Agent"] != "test-agent" {
		t.Error("expected non-sensitive headers in the snapshot")
	}
}

func TestAggregateClientCannotShadowServerFields(t *testing.T) {
	sess := &model.Session{Token: "tok", SubjectID: "u1"}
	server := model.ServerMetadata{
		IP:  model.IPInfo{Address: "203.0.113.7"},
		Geo: geo.Unknown(),
	}
	client := map[string]any{
		"server":       "spoofed",
		"token":        "spoofed",
		"subject_id":   "spoofed",
		"completed_at": "spoofed",
		"id":           "spoofed",
		"fingerprint":  "kept",
	}

	rec := Aggregate(sess, server, client)

	if rec.Server.IP.Address != "203.0.113.7" {
		t.Errorf("server address = %q, client payload must not override it", rec.Server.IP.Address)
	}
	if rec.Token != "tok" || rec.SubjectID != "u1" {
		t.Errorf("identity fields overridden: token=%q subject=%q", rec.Token, rec.SubjectID)
	}
	for _, k := range []string{"server", "token", "subject_id", "completed_at", "id"} {
		if _, ok := rec.Client[k]; ok {
			t.Errorf("reserved key %q must be dropped from client payload", k)
		}
	}
	if rec.Client["fingerprint"] != "kept" {
		t.Error("non-colliding client keys must be kept as-is")
	}
}

func TestAggregateSetsIdentity(t *testing.T) {
	sess := &model.Session{Token: "tok", SubjectID: "u1"}

	rec := Aggregate(sess, model.ServerMetadata{}, nil)

	if rec.ID == "" {
		t.Error("expected a record id")
	}
	if rec.CompletedAt.IsZero() {
		t.Error("expected completed_at to be set")
	}
	if rec.Client == nil {
		t.Error("client payload should be an empty map, not nil")
	}

	// Aggregate constructs a fresh record each call
	rec2 := Aggregate(sess, model.ServerMetadata{}, nil)
	if rec.ID == rec2.ID {
		t.Error("expected distinct record ids")
	}
}
