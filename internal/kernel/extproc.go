package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	extprocconfigv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_proc/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

// ExternalProcessorServer implements the Envoy external processor service.
// It is the host adapter: Envoy guarantees callbacks for a given exchange
// arrive strictly ordered and non-overlapping on one stream, which is the
// cooperative single-threaded model the Exchange state machine assumes.
type ExternalProcessorServer struct {
	extprocv3.UnimplementedExternalProcessorServer

	kernel *Kernel
}

// NewExternalProcessorServer creates a new ExternalProcessorServer
func NewExternalProcessorServer(kernel *Kernel) *ExternalProcessorServer {
	return &ExternalProcessorServer{kernel: kernel}
}

// Process implements the bidirectional streaming RPC handler.
// One stream corresponds to one HTTP exchange; the Exchange is allocated on
// the request-headers phase and dropped when the stream ends. Early stream
// teardown (client disconnect, upstream reset) needs no compensation: the
// exchange holds no resources beyond its O(1) state.
func (s *ExternalProcessorServer) Process(stream extprocv3.ExternalProcessor_ProcessServer) error {
	ctx := stream.Context()

	var ex *Exchange

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			slog.ErrorContext(ctx, "Error receiving from stream", "error", err)
			return status.Errorf(codes.Unknown, "failed to receive request: %v", err)
		}

		resp := s.handleProcessingPhase(ctx, req, &ex)

		if err := stream.Send(resp); err != nil {
			slog.ErrorContext(ctx, "Error sending response", "error", err)
			return status.Errorf(codes.Unknown, "failed to send response: %v", err)
		}
	}
}

// handleProcessingPhase routes an event to the exchange's phase handler.
// A body or response event arriving without an exchange means the host broke
// callback ordering; the exchange is synthesized terminated rather than
// processed on a corrupted assumption.
func (s *ExternalProcessorServer) handleProcessingPhase(ctx context.Context, req *extprocv3.ProcessingRequest, ex **Exchange) *extprocv3.ProcessingResponse {
	switch req.Request.(type) {
	case *extprocv3.ProcessingRequest_RequestHeaders:
		exchange, earlyResp := s.newExchangeForRequest(ctx, req)
		if earlyResp != nil {
			return earlyResp
		}
		*ex = exchange
		return (*ex).OnRequestHeaders(req.GetRequestHeaders())

	case *extprocv3.ProcessingRequest_RequestBody:
		if *ex == nil {
			return s.orphanEventResponse(ctx, "request_body")
		}
		return (*ex).OnRequestBodyChunk(req.GetRequestBody())

	case *extprocv3.ProcessingRequest_ResponseHeaders:
		if *ex == nil {
			return s.orphanEventResponse(ctx, "response_headers")
		}
		return (*ex).OnResponseHeaders(req.GetResponseHeaders())

	case *extprocv3.ProcessingRequest_ResponseBody:
		if *ex == nil {
			return s.orphanEventResponse(ctx, "response_body")
		}
		return (*ex).OnResponseBodyChunk(req.GetResponseBody())

	default:
		slog.WarnContext(ctx, "Unknown request type", "type", fmt.Sprintf("%T", req.Request))
		return immediateResponse(policy.ImmediateResponse{StatusCode: 500})
	}
}

// newExchangeForRequest resolves the route's authority and builds the
// Exchange. Routes without a policy get a skip-all response instead of an
// exchange; routes whose policy never loaded are rejected outright, never
// processed against a partial configuration.
func (s *ExternalProcessorServer) newExchangeForRequest(ctx context.Context, req *extprocv3.ProcessingRequest) (*Exchange, *extprocv3.ProcessingResponse) {
	routeKey := extractRouteKey(req)

	auth := s.kernel.GetAuthorityForRoute(routeKey)
	if auth == nil {
		slog.InfoContext(ctx, "No policy attached to route, skipping all processing", "route", routeKey)
		return nil, skipAllProcessing()
	}

	snap, err := auth.Snapshot()
	if err != nil {
		errorID := uuid.New().String()
		slog.ErrorContext(ctx, "Route policy is not configured, rejecting exchange",
			"error_id", errorID,
			"route", routeKey,
			"error", err,
		)
		return nil, immediateResponse(policy.ImmediateResponse{
			StatusCode: 500,
			Headers: map[string]string{
				"content-type": "application/json",
				"x-error-id":   errorID,
			},
			Body: []byte(fmt.Sprintf(`{"error":"Internal Server Error","error_id":"%s"}`, errorID)),
		})
	}

	return newExchange(uuid.New().String(), routeKey, snap), nil
}

// orphanEventResponse answers an event that arrived before request headers.
func (s *ExternalProcessorServer) orphanEventResponse(ctx context.Context, phase string) *extprocv3.ProcessingResponse {
	errorID := uuid.New().String()
	slog.ErrorContext(ctx, "Received event before request headers",
		"error_id", errorID,
		"phase", phase,
	)
	return immediateResponse(policy.ImmediateResponse{
		StatusCode: 500,
		Headers: map[string]string{
			"content-type": "application/json",
			"x-error-id":   errorID,
		},
		Body: []byte(fmt.Sprintf(`{"error":"Internal Server Error","error_id":"%s"}`, errorID)),
	})
}

// skipAllProcessing answers the request-headers phase for routes without a
// policy, telling Envoy not to deliver any further phases.
func skipAllProcessing() *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{},
		},
		ModeOverride: &extprocconfigv3.ProcessingMode{
			ResponseHeaderMode:  extprocconfigv3.ProcessingMode_SKIP,
			RequestTrailerMode:  extprocconfigv3.ProcessingMode_SKIP,
			ResponseTrailerMode: extprocconfigv3.ProcessingMode_SKIP,
			RequestBodyMode:     extprocconfigv3.ProcessingMode_NONE,
			ResponseBodyMode:    extprocconfigv3.ProcessingMode_NONE,
		},
	}
}

// extractRouteKey extracts the route identifier from Envoy metadata.
// Path: req.Attributes["envoy.filters.http.ext_proc"].Fields["xds.route_name"]
func extractRouteKey(req *extprocv3.ProcessingRequest) string {
	if req.Attributes != nil {
		if extProcAttrs, ok := req.Attributes["envoy.filters.http.ext_proc"]; ok {
			if extProcAttrs.Fields != nil {
				if routeName, ok := extProcAttrs.Fields["xds.route_name"]; ok {
					if v := routeName.GetStringValue(); v != "" {
						return v
					}
				}
			}
		}
	}
	return "default"
}
