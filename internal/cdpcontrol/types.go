package cdpcontrol

import "fmt"

const (
	CodeValidation        = "VALIDATION"
	CodeTabNotFound       = "TAB_NOT_FOUND"
	CodeFlowNotFound      = "FLOW_NOT_FOUND"
	CodeEvalFailure       = "EVAL_FAILURE"
	CodeEvalTimeout       = "EVAL_TIMEOUT"
	CodeCDPUnavailable    = "CDP_UNAVAILABLE"
	CodeElementNotFound   = "ELEMENT_NOT_FOUND"
	CodeUnsupportedTarget = "UNSUPPORTED_TARGET"
	CodeAgentMissing      = "AGENT_MISSING"
	CodeBusy              = "BUSY"
	CodeSnapshotNotFound  = "SNAPSHOT_NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func newError(code, msg string, cause error) error { return NewError(code, msg, cause) }

// ProtocolError is an error object returned by the browser for a command.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s (%d)", e.Method, e.Message, e.Code)
}

// TabInfo describes a page target.
type TabInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}
