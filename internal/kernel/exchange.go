package kernel

import (
	"fmt"
	"log/slog"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/google/uuid"

	"github.com/flexproc/flexproc/internal/authority"
	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

// ExchangeState tracks an exchange through its lifecycle.
type ExchangeState int

const (
	// StatePending - exchange created, no headers observed yet
	StatePending ExchangeState = iota
	// StateHeadersSeen - request headers processed
	StateHeadersSeen
	// StateBodyAccumulating - zero or more request body chunks observed
	StateBodyAccumulating
	// StateCompleted - exchange finished normally
	StateCompleted
	// StateTerminated - a behavior aborted the exchange. Absorbing: no
	// further mutation is applied and the upstream leg is suppressed.
	StateTerminated
)

// Decision is the exchange's overall outcome so far.
type Decision int

const (
	// DecisionPending - no behavior has decided yet
	DecisionPending Decision = iota
	// DecisionContinue - at least one event passed through
	DecisionContinue
	// DecisionTerminated - the exchange was short-circuited
	DecisionTerminated
)

// Exchange manages the lifecycle of a single HTTP exchange through the
// behavior set. Created at request-headers time, dropped when the exchange
// completes or the host tears the stream down. One instance maps to exactly
// one exchange; the only state shared with siblings is the immutable
// configuration snapshot.
type Exchange struct {
	id       string
	routeKey string
	snapshot *authority.Snapshot

	state    ExchangeState
	decision Decision

	// observedBytes counts request body bytes seen so far. The bytes
	// themselves are never retained.
	observedBytes uint64

	// terminal holds the first terminating response. Later terminate
	// attempts are no-ops.
	terminal *policy.ImmediateResponse

	requestCtx  *policy.RequestContext
	responseCtx *policy.ResponseContext
}

func newExchange(id, routeKey string, snap *authority.Snapshot) *Exchange {
	return &Exchange{
		id:       id,
		routeKey: routeKey,
		snapshot: snap,
		state:    StatePending,
		decision: DecisionPending,
	}
}

// ObservedBytes returns the running request body byte count.
func (ex *Exchange) ObservedBytes() uint64 {
	return ex.observedBytes
}

// State returns the current lifecycle state.
func (ex *Exchange) State() ExchangeState {
	return ex.state
}

// Decision returns the exchange's outcome so far.
func (ex *Exchange) Decision() Decision {
	return ex.decision
}

// OnRequestHeaders processes the request-headers event: it builds the
// request context and runs every behavior registered for the headers phase,
// accumulating header mutations or short-circuiting on the first
// ImmediateResponse.
func (ex *Exchange) OnRequestHeaders(headers *extprocv3.HttpHeaders) *extprocv3.ProcessingResponse {
	if ex.state == StateTerminated {
		return immediateResponse(*ex.terminal)
	}
	if ex.state != StatePending {
		return ex.protocolViolation("request_headers")
	}

	ex.requestCtx = buildRequestContext(ex.id, headers)
	ex.state = StateHeadersSeen

	mods := policy.UpstreamRequestModifications{
		SetHeaders:    map[string]string{},
		AppendHeaders: map[string][]string{},
	}

	for _, pol := range ex.snapshot.Policies {
		if pol.Mode().RequestHeaderMode != policy.HeaderModeProcess {
			continue
		}

		action := pol.OnRequestHeaders(ex.requestCtx)
		if action == nil {
			continue
		}

		switch act := action.(type) {
		case policy.ImmediateResponse:
			return ex.terminate(act)
		case policy.UpstreamRequestModifications:
			// Apply to the live context so later behaviors observe the
			// mutated header set, and accumulate for the wire response.
			applyRequestModifications(ex.requestCtx, act, &mods)
		}
	}

	ex.decision = DecisionContinue
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{
					HeaderMutation: buildHeaderMutation(mods),
				},
			},
		},
		ModeOverride: ex.modeOverride(),
	}
}

// OnRequestBodyChunk processes one request body chunk. The running byte
// count is updated before behaviors run, so a streaming guard decides on the
// exact chunk that crosses its threshold instead of waiting for end of
// stream.
func (ex *Exchange) OnRequestBodyChunk(body *extprocv3.HttpBody) *extprocv3.ProcessingResponse {
	if ex.state == StateTerminated {
		return immediateResponse(*ex.terminal)
	}
	if ex.state != StateHeadersSeen && ex.state != StateBodyAccumulating {
		return ex.protocolViolation("request_body")
	}

	ex.state = StateBodyAccumulating
	ex.observedBytes += uint64(len(body.Body))
	ex.requestCtx.ObservedBodyBytes = ex.observedBytes

	chunk := policy.BodyChunk{Content: body.Body, EndOfStream: body.EndOfStream}

	for _, pol := range ex.snapshot.Policies {
		if pol.Mode().RequestBodyMode != policy.BodyModeStream {
			continue
		}

		action := pol.OnRequestBodyChunk(ex.requestCtx, chunk)
		if action == nil {
			continue
		}
		if act, ok := action.(policy.ImmediateResponse); ok {
			return ex.terminate(act)
		}
	}

	ex.decision = DecisionContinue
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestBody{
			RequestBody: &extprocv3.BodyResponse{},
		},
	}
}

// OnResponseHeaders processes the response-headers event. None of the
// shipped behaviors mutate the response leg; the hook exists for symmetry
// and runs any behavior that opts into the phase.
func (ex *Exchange) OnResponseHeaders(headers *extprocv3.HttpHeaders) *extprocv3.ProcessingResponse {
	if ex.state == StateTerminated {
		return immediateResponse(*ex.terminal)
	}

	ex.responseCtx = buildResponseContext(ex, headers)

	mods := policy.UpstreamResponseModifications{
		SetHeaders:    map[string]string{},
		AppendHeaders: map[string][]string{},
	}

	for _, pol := range ex.snapshot.Policies {
		if pol.Mode().ResponseHeaderMode != policy.HeaderModeProcess {
			continue
		}
		action := pol.OnResponseHeaders(ex.responseCtx)
		if action == nil {
			continue
		}
		if act, ok := action.(policy.UpstreamResponseModifications); ok {
			applyResponseModifications(ex.responseCtx, act, &mods)
		}
	}

	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseHeaders{
			ResponseHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{
					HeaderMutation: buildResponseHeaderMutation(mods),
				},
			},
		},
	}
}

// OnResponseBodyChunk processes one response body chunk.
func (ex *Exchange) OnResponseBodyChunk(body *extprocv3.HttpBody) *extprocv3.ProcessingResponse {
	if ex.state == StateTerminated {
		return immediateResponse(*ex.terminal)
	}

	chunk := policy.BodyChunk{Content: body.Body, EndOfStream: body.EndOfStream}

	for _, pol := range ex.snapshot.Policies {
		if pol.Mode().ResponseBodyMode != policy.BodyModeStream {
			continue
		}
		pol.OnResponseBodyChunk(ex.responseCtx, chunk)
	}

	if body.EndOfStream {
		ex.state = StateCompleted
	}
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseBody{
			ResponseBody: &extprocv3.BodyResponse{},
		},
	}
}

// terminate records the first terminating decision and synthesizes the
// client response. Re-entrant calls on an already-terminated exchange
// preserve the original decision.
func (ex *Exchange) terminate(resp policy.ImmediateResponse) *extprocv3.ProcessingResponse {
	if ex.state != StateTerminated {
		ex.state = StateTerminated
		ex.decision = DecisionTerminated
		ex.terminal = &resp
	}
	return immediateResponse(*ex.terminal)
}

// protocolViolation handles callbacks arriving out of lifecycle order.
// Proceeding would corrupt the state machine, so the exchange is terminated
// rather than forwarded on an assumption.
func (ex *Exchange) protocolViolation(phase string) *extprocv3.ProcessingResponse {
	errorID := uuid.New().String()
	slog.Error("Host callback ordering violation",
		"error_id", errorID,
		"exchange_id", ex.id,
		"route_key", ex.routeKey,
		"phase", phase,
		"state", ex.state,
	)
	return ex.terminate(policy.ImmediateResponse{
		StatusCode: 500,
		Headers: map[string]string{
			"content-type": "application/json",
			"x-error-id":   errorID,
		},
		Body: []byte(fmt.Sprintf(`{"error":"Internal Server Error","error_id":"%s"}`, errorID)),
	})
}
