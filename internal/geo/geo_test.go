package geo

import (
	"testing"

	"github.com/verigate/verigate/internal/model"
)

func TestUnknownSentinels(t *testing.T) {
	info := Unknown()
	if info.Country != model.GeoUnknown || info.City != model.GeoUnknown ||
		info.Region != model.GeoUnknown || info.Timezone != model.GeoUnknown {
		t.Errorf("Unknown() = %+v, want all sentinel fields", info)
	}
}

func TestNoopResolver(t *testing.T) {
	var r Resolver = NoopResolver{}

	for _, ip := range []string{"203.0.113.7", "not-an-ip", ""} {
		if got := r.Lookup(ip); got != Unknown() {
			t.Errorf("Lookup(%q) = %+v, want sentinels", ip, got)
		}
	}
}

func TestOpenMissingDatabase(t *testing.T) {
	if _, err := Open("/nonexistent/GeoLite2-City.mmdb"); err == nil {
		t.Fatal("expected an error for a missing database file")
	}
}
