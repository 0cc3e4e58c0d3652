// Package contextsigner injects a signed context assertion into the outbound
// request. The token binds the configured issuer to an audience taken from a
// configured request header, so the upstream can trust request provenance by
// verifying against the issuer's published public key.
package contextsigner

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

// SignedContextHeader is the fixed outbound header name carrying the token.
// This is the externally visible wire contract: verifiers split the value on
// '.', recover the claims JSON, and validate the RS256 signature.
const SignedContextHeader = "x-signed-context"

// ContextSignerPolicy implements the signed-context injector.
type ContextSignerPolicy struct {
	issuer         string
	key            *rsa.PrivateKey
	audienceHeader string

	// now is the clock source for the iat claim. Replaceable in tests.
	now func() time.Time
}

// NewPolicy creates a signer bound to a parsed key handle. The key has
// already been validated by the configuration authority; signing can still
// fail at request time and is handled per exchange.
func NewPolicy(issuer string, key *rsa.PrivateKey, audienceHeader string) *ContextSignerPolicy {
	return &ContextSignerPolicy{
		issuer:         issuer,
		key:            key,
		audienceHeader: audienceHeader,
		now:            time.Now,
	}
}

// Mode returns the processing mode for this behavior
func (p *ContextSignerPolicy) Mode() policy.ProcessingMode {
	return policy.ProcessingMode{
		RequestHeaderMode:  policy.HeaderModeProcess,
		RequestBodyMode:    policy.BodyModeSkip,
		ResponseHeaderMode: policy.HeaderModeSkip,
		ResponseBodyMode:   policy.BodyModeSkip,
	}
}

// OnRequestHeaders builds and attaches the signed-context token.
//
// A missing audience header yields an empty audience claim, never an error:
// injection is best-effort on claims. A signing failure terminates the
// exchange instead of forwarding an unsigned request, since the upstream
// trusts the header whenever it is present.
func (p *ContextSignerPolicy) OnRequestHeaders(ctx *policy.RequestContext) policy.RequestAction {
	audience := ctx.Headers.Get(p.audienceHeader)

	token, err := p.sign(audience)
	if err != nil {
		errorID := uuid.New().String()
		slog.Error("Context signing failed",
			"error_id", errorID,
			"exchange_id", ctx.ExchangeID,
			"error", err,
		)
		return policy.ImmediateResponse{
			StatusCode: 500,
			Headers: map[string]string{
				"content-type": "application/json",
				"x-error-id":   errorID,
			},
			Body: []byte(fmt.Sprintf(`{"error":"Internal Server Error","error_id":"%s"}`, errorID)),
		}
	}

	return policy.UpstreamRequestModifications{
		SetHeaders: map[string]string{SignedContextHeader: token},
	}
}

// OnRequestBodyChunk is not used by this behavior
func (p *ContextSignerPolicy) OnRequestBodyChunk(ctx *policy.RequestContext, chunk policy.BodyChunk) policy.RequestAction {
	return nil
}

// OnResponseHeaders is not used by this behavior
func (p *ContextSignerPolicy) OnResponseHeaders(ctx *policy.ResponseContext) policy.ResponseAction {
	return nil
}

// OnResponseBodyChunk is not used by this behavior
func (p *ContextSignerPolicy) OnResponseBodyChunk(ctx *policy.ResponseContext, chunk policy.BodyChunk) policy.ResponseAction {
	return nil
}

// sign produces the compact token for one exchange. Tokens are never cached:
// the audience claim is request-dependent and iat must be fresh.
func (p *ContextSignerPolicy) sign(audience string) (string, error) {
	claims := jwt.MapClaims{
		"iss": p.issuer,
		"aud": audience,
		"iat": p.now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign context token: %w", err)
	}
	return signed, nil
}
