package admin

import "time"

// ConfigDumpResponse is the top-level response structure for the config_dump endpoint
type ConfigDumpResponse struct {
	Timestamp time.Time  `json:"timestamp"`
	Routes    RoutesDump `json:"routes"`
}

// RoutesDump contains information about all configured routes
type RoutesDump struct {
	TotalRoutes  int           `json:"total_routes"`
	RouteConfigs []RouteConfig `json:"route_configs"`
}

// RouteConfig describes the policy attached to a single route. Key material
// is never included, only whether a key is held.
type RouteConfig struct {
	RouteKey            string  `json:"route_key"`
	Configured          bool    `json:"configured"`
	SigningEnabled      bool    `json:"signing_enabled"`
	Issuer              string  `json:"issuer,omitempty"`
	AudienceHeaderName  string  `json:"audience_header_name,omitempty"`
	SizeGuardEnabled    bool    `json:"size_guard_enabled"`
	MaxPayloadBytes     *uint64 `json:"max_payload_bytes,omitempty"`
	RequiresRequestBody bool    `json:"requires_request_body"`
}
