package authority

import (
	"crypto/rsa"
	"fmt"

	"github.com/goccy/go-json"
)

// DefaultAudienceHeader is the request header whose value becomes the
// audience claim when the configuration does not name one.
const DefaultAudienceHeader = "user-agent"

// Config is the per-policy configuration object. Immutable after a
// successful Load; every exchange reads the same snapshot.
//
// A deployed instance carries only the fields its behaviors need: the
// signing fields activate the signed-context injector, MaxPayloadBytes
// activates the payload-size guard.
type Config struct {
	// Issuer is the iss claim placed in signed-context tokens.
	Issuer string `json:"issuer"`

	// PrivateKey is the RSA signing key material, PEM or raw base64 body.
	PrivateKey string `json:"privateKey"`

	// AudienceHeaderName names the request header whose value becomes the
	// aud claim. Defaults to DefaultAudienceHeader.
	AudienceHeaderName string `json:"audienceHeaderName"`

	// MaxPayloadBytes is the request body ceiling. nil disables the guard.
	MaxPayloadBytes *uint64 `json:"maxPayloadBytes"`

	signingKey *rsa.PrivateKey
}

// SigningEnabled reports whether the signed-context injector is configured.
func (c *Config) SigningEnabled() bool {
	return c.Issuer != "" || c.PrivateKey != ""
}

// SizeGuardEnabled reports whether the payload-size guard is configured.
func (c *Config) SizeGuardEnabled() bool {
	return c.MaxPayloadBytes != nil
}

// SigningKey returns the parsed key handle. Only valid after a successful
// parseConfig on a signing-enabled configuration.
func (c *Config) SigningKey() *rsa.PrivateKey {
	return c.signingKey
}

// parseConfig parses and validates a raw configuration payload. Every error
// is fatal to activation: no exchange may run against a partially-valid
// configuration.
func parseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy configuration: %w", err)
	}

	if cfg.SigningEnabled() {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("'issuer' is required when a signing key is configured")
		}
		if cfg.PrivateKey == "" {
			return nil, fmt.Errorf("'privateKey' is required when an issuer is configured")
		}
		key, err := parseSigningKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid 'privateKey': %w", err)
		}
		cfg.signingKey = key

		if cfg.AudienceHeaderName == "" {
			cfg.AudienceHeaderName = DefaultAudienceHeader
		}
	} else if cfg.AudienceHeaderName != "" {
		return nil, fmt.Errorf("'audienceHeaderName' requires 'issuer' and 'privateKey'")
	}

	if cfg.MaxPayloadBytes != nil && *cfg.MaxPayloadBytes == 0 {
		return nil, fmt.Errorf("'maxPayloadBytes' must be greater than 0")
	}

	if !cfg.SigningEnabled() && !cfg.SizeGuardEnabled() {
		return nil, fmt.Errorf("configuration enables no behavior")
	}

	return &cfg, nil
}
