package contextsigner

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate test key: %v", err)
	}
	return key
}

func requestContext(headers map[string]string) *policy.RequestContext {
	headerMap := make(map[string][]string, len(headers))
	for k, v := range headers {
		headerMap[k] = []string{v}
	}
	return &policy.RequestContext{
		SharedContext: &policy.SharedContext{ExchangeID: "test-exchange"},
		Headers:       policy.NewHeaders(headerMap),
		Path:          "/orders",
		Method:        "POST",
	}
}

// verifyToken parses a signed token against the key's public half and
// returns its claims.
func verifyToken(t *testing.T, token string, key *rsa.PrivateKey) jwt.MapClaims {
	t.Helper()

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("Token failed verification: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("Expected MapClaims, got %T", parsed.Claims)
	}
	return claims
}

func TestContextSignerPolicy_Mode(t *testing.T) {
	p := NewPolicy("iss", testKey(t), "user-agent")

	mode := p.Mode()
	if mode.RequestHeaderMode != policy.HeaderModeProcess {
		t.Error("Expected request headers to be processed")
	}
	if mode.RequestBodyMode != policy.BodyModeSkip {
		t.Error("Expected request body to be skipped")
	}
	if mode.ResponseHeaderMode != policy.HeaderModeSkip || mode.ResponseBodyMode != policy.BodyModeSkip {
		t.Error("Expected response phases to be skipped")
	}
}

func TestOnRequestHeaders_InjectsSignedToken(t *testing.T) {
	key := testKey(t)
	p := NewPolicy("flexproc-gateway", key, "user-agent")

	action := p.OnRequestHeaders(requestContext(map[string]string{
		"user-agent": "curl/8.0",
	}))

	mods, ok := action.(policy.UpstreamRequestModifications)
	if !ok {
		t.Fatalf("Expected UpstreamRequestModifications, got %T", action)
	}

	token, ok := mods.SetHeaders[SignedContextHeader]
	if !ok {
		t.Fatalf("Expected %s header to be set", SignedContextHeader)
	}

	claims := verifyToken(t, token, key)
	if claims["iss"] != "flexproc-gateway" {
		t.Errorf("Expected iss claim %q, got %v", "flexproc-gateway", claims["iss"])
	}
	if claims["aud"] != "curl/8.0" {
		t.Errorf("Expected aud claim %q, got %v", "curl/8.0", claims["aud"])
	}
	if _, ok := claims["iat"]; !ok {
		t.Error("Expected iat claim to be present")
	}
}

func TestOnRequestHeaders_MissingAudienceHeader(t *testing.T) {
	key := testKey(t)
	p := NewPolicy("iss", key, "x-client-id")

	action := p.OnRequestHeaders(requestContext(map[string]string{
		"user-agent": "curl/8.0",
	}))

	mods, ok := action.(policy.UpstreamRequestModifications)
	if !ok {
		t.Fatalf("Expected best-effort injection, got %T", action)
	}

	claims := verifyToken(t, mods.SetHeaders[SignedContextHeader], key)
	if claims["aud"] != "" {
		t.Errorf("Expected empty aud claim, got %v", claims["aud"])
	}
}

func TestOnRequestHeaders_AudienceLookupCaseInsensitive(t *testing.T) {
	key := testKey(t)
	p := NewPolicy("iss", key, "User-Agent")

	action := p.OnRequestHeaders(requestContext(map[string]string{
		"user-agent": "curl/8.0",
	}))

	mods := action.(policy.UpstreamRequestModifications)
	claims := verifyToken(t, mods.SetHeaders[SignedContextHeader], key)
	if claims["aud"] != "curl/8.0" {
		t.Errorf("Expected aud claim from case-insensitive lookup, got %v", claims["aud"])
	}
}

func TestOnRequestHeaders_TokenIsPerRequest(t *testing.T) {
	key := testKey(t)
	p := NewPolicy("iss", key, "user-agent")

	// Pin distinct clock readings so two exchanges cannot share a token.
	base := time.Unix(1700000000, 0)
	p.now = func() time.Time { return base }
	first := p.OnRequestHeaders(requestContext(map[string]string{"user-agent": "a"}))

	p.now = func() time.Time { return base.Add(time.Second) }
	second := p.OnRequestHeaders(requestContext(map[string]string{"user-agent": "a"}))

	tok1 := first.(policy.UpstreamRequestModifications).SetHeaders[SignedContextHeader]
	tok2 := second.(policy.UpstreamRequestModifications).SetHeaders[SignedContextHeader]
	if tok1 == tok2 {
		t.Error("Expected a fresh token per exchange")
	}

	claims := verifyToken(t, tok2, key)
	if int64(claims["iat"].(float64)) != base.Add(time.Second).Unix() {
		t.Errorf("Expected iat to track the signing clock, got %v", claims["iat"])
	}
}

func TestOnRequestHeaders_SigningFailureTerminates(t *testing.T) {
	key := testKey(t)
	// Zero the private exponent and drop the CRT values so the signature
	// computation fails its consistency check.
	key.D.SetInt64(0)
	key.Precomputed = rsa.PrecomputedValues{}

	p := NewPolicy("iss", key, "user-agent")
	action := p.OnRequestHeaders(requestContext(map[string]string{"user-agent": "a"}))

	resp, ok := action.(policy.ImmediateResponse)
	if !ok {
		t.Fatalf("Expected ImmediateResponse on signing failure, got %T", action)
	}
	if resp.StatusCode != 500 {
		t.Errorf("Expected status 500, got %d", resp.StatusCode)
	}
	if resp.Headers["x-error-id"] == "" {
		t.Error("Expected an error correlation id header")
	}
	if !resp.StopExecution() {
		t.Error("Signing failure must stop the exchange")
	}
}

func TestPassThroughcallbacks(t *testing.T) {
	p := NewPolicy("iss", testKey(t), "user-agent")

	if got := p.OnRequestBodyChunk(nil, policy.BodyChunk{}); got != nil {
		t.Errorf("Expected nil from OnRequestBodyChunk, got %v", got)
	}
	if got := p.OnResponseHeaders(nil); got != nil {
		t.Errorf("Expected nil from OnResponseHeaders, got %v", got)
	}
	if got := p.OnResponseBodyChunk(nil, policy.BodyChunk{}); got != nil {
		t.Errorf("Expected nil from OnResponseBodyChunk, got %v", got)
	}
}
