package policyv1alpha

// SharedContext carries exchange-scoped data that persists across request and
// response phases. One instance per exchange, never shared between exchanges.
type SharedContext struct {
	// ExchangeID uniquely identifies this exchange for log correlation.
	ExchangeID string
}

// RequestContext is the request-phase view a behavior receives.
type RequestContext struct {
	*SharedContext

	// Headers is the current request header set, including any mutations
	// already applied by earlier behaviors in the same exchange.
	Headers *Headers

	// Path is the :path pseudo-header value.
	Path string

	// Method is the :method pseudo-header value.
	Method string

	// ObservedBodyBytes is the running total of request body bytes seen so
	// far on this exchange, including the chunk currently being processed.
	// Maintained by the kernel; monotonically non-decreasing.
	ObservedBodyBytes uint64
}

// ResponseContext is the response-phase view a behavior receives.
type ResponseContext struct {
	*SharedContext

	// RequestHeaders is the request header set as it was forwarded upstream.
	RequestHeaders *Headers

	// ResponseHeaders is the current response header set.
	ResponseHeaders *Headers

	// ResponseStatus is the upstream :status value, 0 if unparseable.
	ResponseStatus int
}
