package models

// ContentResult is the outcome of content resolution for one action.
type ContentResult struct {
	// Generated is true when generated content replaced the template.
	Generated bool
	// FellBack is true when generation failed and template content was kept.
	FellBack bool
	Err      error
}

// OK reports whether the action has usable content.
func (r ContentResult) OK() bool { return r.Err == nil }

// DispatchOutcome classifies a dispatcher result.
type DispatchOutcome int

const (
	DispatchSent DispatchOutcome = iota
	DispatchFailed
	DispatchSkippedUnconfigured
)

// DispatchResult is returned by every channel dispatcher.
type DispatchResult struct {
	Outcome         DispatchOutcome
	Err             error
	Retryable       bool
	ProviderPayload map[string]string
}

// Sent builds a successful dispatch result.
func Sent(payload map[string]string) DispatchResult {
	return DispatchResult{Outcome: DispatchSent, ProviderPayload: payload}
}

// Retryable builds a failed dispatch result that may be retried.
func Retryable(err error) DispatchResult {
	return DispatchResult{Outcome: DispatchFailed, Err: err, Retryable: true}
}

// Permanent builds a failed dispatch result that waiting cannot fix.
func Permanent(err error) DispatchResult {
	return DispatchResult{Outcome: DispatchFailed, Err: err}
}

// SkippedUnconfigured builds the result for a channel with no transport.
func SkippedUnconfigured() DispatchResult {
	return DispatchResult{Outcome: DispatchSkippedUnconfigured, Err: ErrTransportUnconfigured}
}

// Failure is what the retry controller consumes.
type Failure struct {
	Err       error
	Retryable bool
	// Stage is "content" or "dispatch".
	Stage string
}

// FailureFromDispatch converts a failed dispatch result.
func FailureFromDispatch(r DispatchResult) Failure {
	return Failure{Err: r.Err, Retryable: r.Retryable, Stage: "dispatch"}
}

// FailureFromContent converts a failed content result. Content failures are retryable.
func FailureFromContent(r ContentResult) Failure {
	return Failure{Err: r.Err, Retryable: true, Stage: "content"}
}
