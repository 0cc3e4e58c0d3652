// Package authority owns per-policy configuration. A configuration is parsed
// and validated exactly once, at load time, and then published as an
// immutable snapshot that every exchange reads without locking.
// Reconfiguration is an atomic snapshot replacement, never in-place mutation,
// so exchanges that start mid-reload see either the old or the new
// configuration in full.
package authority

import (
	"errors"
	"sync/atomic"

	"github.com/flexproc/flexproc/internal/behaviors/contextsigner"
	"github.com/flexproc/flexproc/internal/behaviors/sizeguard"
	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

// ErrNotConfigured is returned when an exchange is requested before a
// successful Load.
var ErrNotConfigured = errors.New("authority: no configuration loaded")

// Snapshot is one immutable, fully-validated configuration generation:
// the parsed config plus the behavior instances built from it, in execution
// order. Exchanges borrow snapshots read-only.
type Snapshot struct {
	Config   *Config
	Policies []policy.Policy

	// RequiresRequestBody is true when any behavior streams the request
	// body. Drives the ext_proc body mode override.
	RequiresRequestBody bool

	// RequiresResponseBody is true when any behavior streams the response
	// body.
	RequiresResponseBody bool

	// ProcessesResponseHeaders is true when any behavior handles the
	// response headers phase.
	ProcessesResponseHeaders bool
}

// Authority holds the active configuration snapshot for one policy instance.
type Authority struct {
	current atomic.Pointer[Snapshot]
}

// New creates an Authority with no configuration loaded. Every exchange
// request fails with ErrNotConfigured until Load succeeds.
func New() *Authority {
	return &Authority{}
}

// Load parses, validates, and publishes a raw configuration payload.
// On failure the previously held snapshot, if any, stays active: a broken
// reconfiguration never deactivates a working policy, and a broken initial
// configuration never activates at all. Re-invocation replaces, not merges.
func (a *Authority) Load(raw []byte) error {
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}

	snap := &Snapshot{Config: cfg}

	if cfg.SigningEnabled() {
		snap.Policies = append(snap.Policies,
			contextsigner.NewPolicy(cfg.Issuer, cfg.SigningKey(), cfg.AudienceHeaderName))
	}
	if cfg.SizeGuardEnabled() {
		snap.Policies = append(snap.Policies, sizeguard.NewPolicy(*cfg.MaxPayloadBytes))
	}

	for _, pol := range snap.Policies {
		mode := pol.Mode()
		if mode.RequestBodyMode == policy.BodyModeStream {
			snap.RequiresRequestBody = true
		}
		if mode.ResponseBodyMode == policy.BodyModeStream {
			snap.RequiresResponseBody = true
		}
		if mode.ResponseHeaderMode == policy.HeaderModeProcess {
			snap.ProcessesResponseHeaders = true
		}
	}

	a.current.Store(snap)
	return nil
}

// Configured reports whether a snapshot has been published.
func (a *Authority) Configured() bool {
	return a.current.Load() != nil
}

// Snapshot returns the active configuration snapshot for a new exchange.
func (a *Authority) Snapshot() (*Snapshot, error) {
	snap := a.current.Load()
	if snap == nil {
		return nil, ErrNotConfigured
	}
	return snap, nil
}
