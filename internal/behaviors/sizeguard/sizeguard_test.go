package sizeguard

import (
	"testing"

	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

func chunkContext(observed uint64) *policy.RequestContext {
	return &policy.RequestContext{
		SharedContext:     &policy.SharedContext{ExchangeID: "test-exchange"},
		ObservedBodyBytes: observed,
	}
}

func TestSizeGuardPolicy_Mode(t *testing.T) {
	p := NewPolicy(1024)

	mode := p.Mode()
	if mode.RequestBodyMode != policy.BodyModeStream {
		t.Error("Expected request body streaming")
	}
	if mode.RequestHeaderMode != policy.HeaderModeSkip {
		t.Error("Expected request headers to be skipped")
	}
	if mode.ResponseHeaderMode != policy.HeaderModeSkip || mode.ResponseBodyMode != policy.BodyModeSkip {
		t.Error("Expected response phases to be skipped")
	}
}

func TestOnRequestBodyChunk_WithinLimit(t *testing.T) {
	p := NewPolicy(1024)

	tests := []struct {
		name     string
		observed uint64
	}{
		{"empty body", 0},
		{"under limit", 512},
		{"exactly at limit", 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := p.OnRequestBodyChunk(chunkContext(tt.observed), policy.BodyChunk{})
			if action != nil {
				t.Errorf("Expected pass-through at %d bytes, got %T", tt.observed, action)
			}
		})
	}
}

func TestOnRequestBodyChunk_OverLimit(t *testing.T) {
	p := NewPolicy(1024)

	action := p.OnRequestBodyChunk(chunkContext(1025), policy.BodyChunk{})

	resp, ok := action.(policy.ImmediateResponse)
	if !ok {
		t.Fatalf("Expected ImmediateResponse, got %T", action)
	}
	if resp.StatusCode != StatusPayloadTooLarge {
		t.Errorf("Expected status %d, got %d", StatusPayloadTooLarge, resp.StatusCode)
	}
	if got := string(resp.Body); got != `{"message":"Body size exceeds the maximum allowed."}` {
		t.Errorf("Unexpected violation body: %s", got)
	}
	if resp.Headers["content-type"] != "application/json" {
		t.Errorf("Expected JSON content type, got %q", resp.Headers["content-type"])
	}
	if !resp.StopExecution() {
		t.Error("A violation must stop the exchange")
	}
}

func TestOnRequestBodyChunk_DecidesBeforeEndOfStream(t *testing.T) {
	p := NewPolicy(100)

	// The violating chunk is not the final one; the guard must not wait.
	action := p.OnRequestBodyChunk(chunkContext(150), policy.BodyChunk{
		Content:     make([]byte, 50),
		EndOfStream: false,
	})

	if _, ok := action.(policy.ImmediateResponse); !ok {
		t.Fatalf("Expected termination mid-stream, got %T", action)
	}
}

func TestPassThroughCallbacks(t *testing.T) {
	p := NewPolicy(1024)

	if got := p.OnRequestHeaders(chunkContext(0)); got != nil {
		t.Errorf("Expected nil from OnRequestHeaders, got %v", got)
	}
	if got := p.OnResponseHeaders(nil); got != nil {
		t.Errorf("Expected nil from OnResponseHeaders, got %v", got)
	}
	if got := p.OnResponseBodyChunk(nil, policy.BodyChunk{}); got != nil {
		t.Errorf("Expected nil from OnResponseBodyChunk, got %v", got)
	}
}
