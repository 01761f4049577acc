package model

import "time"

// GeoUnknown is the sentinel for geolocation fields that could not be
// resolved. Fields are always present with this value rather than absent.
const GeoUnknown = "Unknown"

type GeoInfo struct {
	Country  string `json:"country"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Timezone string `json:"timezone"`
}

type IPInfo struct {
	Address   string `json:"address"`
	Forwarded string `json:"forwarded,omitempty"`
	Remote    string `json:"remote"`
}

type NetworkInfo struct {
	Headers  map[string]string `json:"headers"`
	Protocol string            `json:"protocol"`
	Secure   bool              `json:"secure"`
	Hostname string            `json:"hostname"`
}

// ServerMetadata is the server-observed side of a verification record.
type ServerMetadata struct {
	IP        IPInfo      `json:"ip"`
	Geo       GeoInfo     `json:"geo"`
	Network   NetworkInfo `json:"network"`
	UserAgent string      `json:"user_agent"`
	Timestamp time.Time   `json:"timestamp"`
}

// VerificationRecord is the merged result of server and client telemetry for
// one completed session. It is constructed once by the aggregator and never
// mutated afterwards; the client payload lives under its own key so it cannot
// shadow a server-observed field.
type VerificationRecord struct {
	ID          string         `json:"id"`
	Token       string         `json:"token"`
	SubjectID   string         `json:"subject_id"`
	Server      ServerMetadata `json:"server"`
	Client      map[string]any `json:"client"`
	CompletedAt time.Time      `json:"completed_at"`
}
