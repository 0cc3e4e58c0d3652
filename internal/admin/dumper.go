package admin

import (
	"time"

	"github.com/flexproc/flexproc/internal/kernel"
)

// DumpConfig builds a sanitized snapshot of the engine's route table.
// Private key material is redacted unconditionally.
func DumpConfig(k *kernel.Kernel) *ConfigDumpResponse {
	routes := k.DumpRoutes()

	routeConfigs := make([]RouteConfig, 0, len(routes))
	for routeKey, auth := range routes {
		rc := RouteConfig{RouteKey: routeKey}

		snap, err := auth.Snapshot()
		if err == nil {
			cfg := snap.Config
			rc.Configured = true
			rc.SigningEnabled = cfg.SigningEnabled()
			rc.SizeGuardEnabled = cfg.SizeGuardEnabled()
			rc.RequiresRequestBody = snap.RequiresRequestBody
			if cfg.SigningEnabled() {
				rc.Issuer = cfg.Issuer
				rc.AudienceHeaderName = cfg.AudienceHeaderName
			}
			if cfg.SizeGuardEnabled() {
				rc.MaxPayloadBytes = cfg.MaxPayloadBytes
			}
		}

		routeConfigs = append(routeConfigs, rc)
	}

	return &ConfigDumpResponse{
		Timestamp: time.Now(),
		Routes: RoutesDump{
			TotalRoutes:  len(routeConfigs),
			RouteConfigs: routeConfigs,
		},
	}
}
