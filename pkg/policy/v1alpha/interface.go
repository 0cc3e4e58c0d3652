package policyv1alpha

// Policy is the interface every interception behavior implements.
//
// The kernel invokes at most one method at a time for a given exchange, in
// lifecycle order: request headers, request body chunks, response headers,
// response body. Implementations must be safe for concurrent use across
// exchanges: all per-exchange state lives in the contexts the kernel passes
// in, never in the behavior value itself.
type Policy interface {

	// Mode returns the behavior's processing requirements per phase.
	// The kernel uses it to skip phases and to decide whether Envoy
	// should stream the request body at all.
	Mode() ProcessingMode

	// OnRequestHeaders runs at request-headers time.
	// Returns nil for pass-through.
	OnRequestHeaders(ctx *RequestContext) RequestAction

	// OnRequestBodyChunk runs once per observed request body chunk.
	// Chunks arrive in order and are not retained by the kernel; a
	// behavior that needs to bound the body must decide per chunk.
	// Returns nil for pass-through.
	OnRequestBodyChunk(ctx *RequestContext, chunk BodyChunk) RequestAction

	// OnResponseHeaders runs at response-headers time.
	// Returns nil for pass-through.
	OnResponseHeaders(ctx *ResponseContext) ResponseAction

	// OnResponseBodyChunk runs once per observed response body chunk.
	// Returns nil for pass-through.
	OnResponseBodyChunk(ctx *ResponseContext, chunk BodyChunk) ResponseAction
}

// ProcessingMode declares which lifecycle phases a behavior participates in.
type ProcessingMode struct {
	RequestHeaderMode  HeaderProcessingMode
	RequestBodyMode    BodyProcessingMode
	ResponseHeaderMode HeaderProcessingMode
	ResponseBodyMode   BodyProcessingMode
}

// HeaderProcessingMode defines how a behavior processes headers
type HeaderProcessingMode string

const (
	// HeaderModeSkip - don't process headers, skip method invocation
	HeaderModeSkip HeaderProcessingMode = "SKIP"

	// HeaderModeProcess - process headers
	HeaderModeProcess HeaderProcessingMode = "PROCESS"
)

// BodyProcessingMode defines how a behavior processes body content
type BodyProcessingMode string

const (
	// BodyModeSkip - don't process body, skip method invocation
	BodyModeSkip BodyProcessingMode = "SKIP"

	// BodyModeStream - observe body chunks as they pass through, without
	// buffering. Per-chunk decisions only; the full body is never held.
	BodyModeStream BodyProcessingMode = "STREAM"
)

// BodyChunk is one observed slice of a streamed HTTP body.
type BodyChunk struct {
	// Content is the chunk payload. The kernel does not retain it after
	// the callback returns.
	Content []byte

	// EndOfStream is true on the final chunk of the body.
	EndOfStream bool
}
