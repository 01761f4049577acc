// Package geo derives coarse location attributes from client IP addresses.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/verigate/verigate/internal/model"
)

// Resolver maps an IP address to location attributes. Every field of the
// result is always populated; unresolvable values get the Unknown sentinel.
type Resolver interface {
	Lookup(ip string) model.GeoInfo
}

// Unknown returns a GeoInfo with every field set to the sentinel.
func Unknown() model.GeoInfo {
	return model.GeoInfo{
		Country:  model.GeoUnknown,
		City:     model.GeoUnknown,
		Region:   model.GeoUnknown,
		Timezone: model.GeoUnknown,
	}
}

// NoopResolver is used when no GeoIP database is configured.
type NoopResolver struct{}

func (NoopResolver) Lookup(string) model.GeoInfo { return Unknown() }

// MaxMindResolver resolves against a local MaxMind City database.
type MaxMindResolver struct {
	db *geoip2.Reader
}

func Open(path string) (*MaxMindResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	return &MaxMindResolver{db: db}, nil
}

func (r *MaxMindResolver) Close() error {
	return r.db.Close()
}

// Lookup never fails; anything unparseable or absent from the database
// degrades to the Unknown sentinels.
func (r *MaxMindResolver) Lookup(ipStr string) model.GeoInfo {
	info := Unknown()

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return info
	}
	city, err := r.db.City(ip)
	if err != nil {
		return info
	}

	if c := city.Country.IsoCode; c != "" {
		info.Country = c
	}
	if n := city.City.Names["en"]; n != "" {
		info.City = n
	}
	if len(city.Subdivisions) > 0 {
		if n := city.Subdivisions[0].Names["en"]; n != "" {
			info.Region = n
		} else if code := city.Subdivisions[0].IsoCode; code != "" {
			info.Region = code
		}
	}
	if tz := city.Location.TimeZone; tz != "" {
		info.Timezone = tz
	}
	return info
}
