package kernel

import (
	"log/slog"
	"strconv"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocconfigv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_proc/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"

	policy "github.com/flexproc/flexproc/pkg/policy/v1alpha"
)

// buildRequestContext converts Envoy request headers into the SDK view.
func buildRequestContext(exchangeID string, headers *extprocv3.HttpHeaders) *policy.RequestContext {
	headersMap := make(map[string][]string)
	var path, method string

	if headers.GetHeaders() != nil {
		for _, header := range headers.GetHeaders().GetHeaders() {
			value := string(header.RawValue)
			switch header.Key {
			case ":path":
				path = value
			case ":method":
				method = value
			}
			headersMap[header.Key] = append(headersMap[header.Key], value)
		}
	}

	return &policy.RequestContext{
		SharedContext: &policy.SharedContext{ExchangeID: exchangeID},
		Headers:       policy.NewHeaders(headersMap),
		Path:          path,
		Method:        method,
	}
}

// buildResponseContext converts Envoy response headers plus the stored
// request context into the response-phase SDK view.
func buildResponseContext(ex *Exchange, headers *extprocv3.HttpHeaders) *policy.ResponseContext {
	headersMap := make(map[string][]string)
	var responseStatus int

	if headers.GetHeaders() != nil {
		for _, header := range headers.GetHeaders().GetHeaders() {
			value := string(header.RawValue)
			headersMap[header.Key] = append(headersMap[header.Key], value)

			if header.Key == ":status" {
				status, err := strconv.Atoi(value)
				if err != nil {
					slog.Warn("Failed to parse response status code",
						"exchange_id", ex.id,
						"status_value", value,
					)
					continue
				}
				responseStatus = status
			}
		}
	}

	ctx := &policy.ResponseContext{
		ResponseHeaders: policy.NewHeaders(headersMap),
		ResponseStatus:  responseStatus,
	}
	if ex.requestCtx != nil {
		ctx.SharedContext = ex.requestCtx.SharedContext
		ctx.RequestHeaders = ex.requestCtx.Headers
	} else {
		ctx.SharedContext = &policy.SharedContext{ExchangeID: ex.id}
	}
	return ctx
}

// applyRequestModifications applies one behavior's modifications to the live
// request context and folds them into the accumulated set for the wire.
func applyRequestModifications(ctx *policy.RequestContext, act policy.UpstreamRequestModifications, acc *policy.UpstreamRequestModifications) {
	for key, value := range act.SetHeaders {
		ctx.Headers.Set(key, value)
		acc.SetHeaders[key] = value
	}
	for key, values := range act.AppendHeaders {
		for _, value := range values {
			ctx.Headers.Add(key, value)
		}
		acc.AppendHeaders[key] = append(acc.AppendHeaders[key], values...)
	}
	for _, key := range act.RemoveHeaders {
		ctx.Headers.Del(key)
	}
	acc.RemoveHeaders = append(acc.RemoveHeaders, act.RemoveHeaders...)
}

// applyResponseModifications mirrors applyRequestModifications for the
// response leg.
func applyResponseModifications(ctx *policy.ResponseContext, act policy.UpstreamResponseModifications, acc *policy.UpstreamResponseModifications) {
	for key, value := range act.SetHeaders {
		ctx.ResponseHeaders.Set(key, value)
		acc.SetHeaders[key] = value
	}
	for key, values := range act.AppendHeaders {
		for _, value := range values {
			ctx.ResponseHeaders.Add(key, value)
		}
		acc.AppendHeaders[key] = append(acc.AppendHeaders[key], values...)
	}
	for _, key := range act.RemoveHeaders {
		ctx.ResponseHeaders.Del(key)
	}
	acc.RemoveHeaders = append(acc.RemoveHeaders, act.RemoveHeaders...)
	if act.StatusCode != nil {
		ctx.ResponseStatus = *act.StatusCode
	}
}

// buildHeaderMutation converts accumulated request modifications into an
// ext_proc HeaderMutation.
func buildHeaderMutation(mods policy.UpstreamRequestModifications) *extprocv3.HeaderMutation {
	mutation := &extprocv3.HeaderMutation{}

	for key, value := range mods.SetHeaders {
		mutation.SetHeaders = append(mutation.SetHeaders, &corev3.HeaderValueOption{
			Header: &corev3.HeaderValue{
				Key:      key,
				RawValue: []byte(value),
			},
			AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		})
	}
	for key, values := range mods.AppendHeaders {
		for _, value := range values {
			mutation.SetHeaders = append(mutation.SetHeaders, &corev3.HeaderValueOption{
				Header: &corev3.HeaderValue{
					Key:      key,
					RawValue: []byte(value),
				},
				AppendAction: corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD,
			})
		}
	}
	mutation.RemoveHeaders = append(mutation.RemoveHeaders, mods.RemoveHeaders...)

	return mutation
}

// buildResponseHeaderMutation converts accumulated response modifications
// into an ext_proc HeaderMutation.
func buildResponseHeaderMutation(mods policy.UpstreamResponseModifications) *extprocv3.HeaderMutation {
	return buildHeaderMutation(policy.UpstreamRequestModifications{
		SetHeaders:    mods.SetHeaders,
		AppendHeaders: mods.AppendHeaders,
		RemoveHeaders: mods.RemoveHeaders,
	})
}

// immediateResponse translates a terminating action into the ext_proc
// immediate response that bypasses the upstream.
func immediateResponse(resp policy.ImmediateResponse) *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &extprocv3.ImmediateResponse{
				Status: &typev3.HttpStatus{
					Code: typev3.StatusCode(resp.StatusCode),
				},
				Headers: buildHeaderValueOptions(resp.Headers),
				Body:    resp.Body,
			},
		},
	}
}

// buildHeaderValueOptions converts a header map to a HeaderMutation for
// immediate responses.
func buildHeaderValueOptions(headers map[string]string) *extprocv3.HeaderMutation {
	if len(headers) == 0 {
		return nil
	}

	mutation := &extprocv3.HeaderMutation{
		SetHeaders: make([]*corev3.HeaderValueOption, 0, len(headers)),
	}
	for key, value := range headers {
		mutation.SetHeaders = append(mutation.SetHeaders, &corev3.HeaderValueOption{
			Header: &corev3.HeaderValue{
				Key:      key,
				RawValue: []byte(value),
			},
			AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		})
	}
	return mutation
}

// modeOverride tells Envoy which phases to deliver for this exchange.
// The request body is STREAMED, never buffered: the size guard decides per
// chunk, so the engine must not accumulate body bytes anywhere.
func (ex *Exchange) modeOverride() *extprocconfigv3.ProcessingMode {
	mode := &extprocconfigv3.ProcessingMode{
		RequestTrailerMode:  extprocconfigv3.ProcessingMode_SKIP,
		ResponseTrailerMode: extprocconfigv3.ProcessingMode_SKIP,
	}

	if ex.snapshot.RequiresRequestBody {
		mode.RequestBodyMode = extprocconfigv3.ProcessingMode_STREAMED
	} else {
		mode.RequestBodyMode = extprocconfigv3.ProcessingMode_NONE
	}

	if ex.snapshot.ProcessesResponseHeaders {
		mode.ResponseHeaderMode = extprocconfigv3.ProcessingMode_SEND
	} else {
		mode.ResponseHeaderMode = extprocconfigv3.ProcessingMode_SKIP
	}

	if ex.snapshot.RequiresResponseBody {
		mode.ResponseBodyMode = extprocconfigv3.ProcessingMode_STREAMED
	} else {
		mode.ResponseBodyMode = extprocconfigv3.ProcessingMode_NONE
	}

	return mode
}
