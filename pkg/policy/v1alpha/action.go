package policyv1alpha

// RequestAction marker interface (oneof pattern).
// The kernel switches on the concrete variant instead of relying on
// virtual dispatch chains.
type RequestAction interface {
	isRequestAction()
	StopExecution() bool // true if the exchange must not reach the upstream
}

// ResponseAction marker interface (oneof pattern)
type ResponseAction interface {
	isResponseAction()
	StopExecution() bool
}

// UpstreamRequestModifications - continue the request to the upstream with
// the given mutations applied.
type UpstreamRequestModifications struct {
	SetHeaders    map[string]string   // Set or replace headers
	RemoveHeaders []string            // Headers to remove
	AppendHeaders map[string][]string // Headers to append
}

func (u UpstreamRequestModifications) isRequestAction() {}
func (u UpstreamRequestModifications) StopExecution() bool {
	return false
}

// ImmediateResponse - terminate the exchange and answer the client directly.
// The upstream never sees the request once this variant is returned.
type ImmediateResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

func (i ImmediateResponse) isRequestAction() {}
func (i ImmediateResponse) StopExecution() bool {
	return true
}

// UpstreamResponseModifications - mutate the response coming back from the
// upstream before it reaches the client.
type UpstreamResponseModifications struct {
	SetHeaders    map[string]string
	RemoveHeaders []string
	AppendHeaders map[string][]string
	StatusCode    *int // nil = no change
}

func (u UpstreamResponseModifications) isResponseAction() {}
func (u UpstreamResponseModifications) StopExecution() bool {
	return false
}
