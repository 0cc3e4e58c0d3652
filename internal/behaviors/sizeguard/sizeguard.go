// Package sizeguard terminates exchanges whose request body grows past a
// configured ceiling. The guard is streaming: it only ever compares the
// kernel's running byte count against the limit, so per-exchange memory stays
// O(1) no matter how large the body is, and the violation fires on the first
// chunk that crosses the threshold rather than after buffering.
package sizeguard

import (
	"github.com/goccy/go-json"

	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

// StatusPayloadTooLarge is the status returned on a violation.
const StatusPayloadTooLarge = 413

const violationMessage = "Body size exceeds the maximum allowed."

type violationBody struct {
	Message string `json:"message"`
}

// SizeGuardPolicy implements the payload-size guard.
type SizeGuardPolicy struct {
	maxBytes uint64
}

// NewPolicy creates a guard with the given ceiling in bytes.
func NewPolicy(maxBytes uint64) *SizeGuardPolicy {
	return &SizeGuardPolicy{maxBytes: maxBytes}
}

// Mode returns the processing mode for this behavior
func (p *SizeGuardPolicy) Mode() policy.ProcessingMode {
	return policy.ProcessingMode{
		RequestHeaderMode:  policy.HeaderModeSkip,
		RequestBodyMode:    policy.BodyModeStream,
		ResponseHeaderMode: policy.HeaderModeSkip,
		ResponseBodyMode:   policy.BodyModeSkip,
	}
}

// OnRequestHeaders is not used by this behavior
func (p *SizeGuardPolicy) OnRequestHeaders(ctx *policy.RequestContext) policy.RequestAction {
	return nil
}

// OnRequestBodyChunk checks the running body total against the ceiling.
// It does not wait for the final chunk: the body may be unbounded.
func (p *SizeGuardPolicy) OnRequestBodyChunk(ctx *policy.RequestContext, chunk policy.BodyChunk) policy.RequestAction {
	if ctx.ObservedBodyBytes <= p.maxBytes {
		return nil
	}

	body, err := json.Marshal(violationBody{Message: violationMessage})
	if err != nil {
		// Marshal of a fixed struct cannot fail; keep the contract anyway.
		body = []byte(`{"message":"` + violationMessage + `"}`)
	}

	return policy.ImmediateResponse{
		StatusCode: StatusPayloadTooLarge,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       body,
	}
}

// OnResponseHeaders is not used by this behavior
func (p *SizeGuardPolicy) OnResponseHeaders(ctx *policy.ResponseContext) policy.ResponseAction {
	return nil
}

// OnResponseBodyChunk is not used by this behavior
func (p *SizeGuardPolicy) OnResponseBodyChunk(ctx *policy.ResponseContext, chunk policy.BodyChunk) policy.ResponseAction {
	return nil
}
