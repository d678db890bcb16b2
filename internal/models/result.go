package models

// ResultKind discriminates the outcome of a step handler.
type ResultKind int

const (
	// ResultReply sends text to the user and commits state.
	ResultReply ResultKind = iota
	// ResultSwitchFlow asks the dispatcher to start another flow.
	ResultSwitchFlow
	// ResultError reports a failure the dispatcher answers with a generic message.
	ResultError
)

// ErrorKind classifies a ResultError.
type ErrorKind string

const (
	ErrorKindRouting  ErrorKind = "routing"
	ErrorKindInternal ErrorKind = "internal"
	ErrorKindTimeout  ErrorKind = "timeout"
)

// Result is the discriminated outcome of handling one message inside a flow.
type Result struct {
	Kind    ResultKind
	Text    string
	Target  FlowName
	Payload Data
	Err     ErrorKind
	Cause   error
}

// Reply builds a text reply result.
func Reply(text string) Result {
	return Result{Kind: ResultReply, Text: text}
}

// SwitchFlow builds a redirect to another flow, carrying payload into its first step.
func SwitchFlow(target FlowName, payload Data) Result {
	return Result{Kind: ResultSwitchFlow, Target: target, Payload: payload}
}

// Fail builds an error result.
func Fail(kind ErrorKind, cause error) Result {
	return Result{Kind: ResultError, Err: kind, Cause: cause}
}
