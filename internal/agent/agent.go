// Package agent holds the JavaScript installed into page frames and the Go
// builders for the expressions that talk to it.
//
// Every expression built here evaluates to a JSON string envelope
// {ok, data, error_code, error_message}; Decode unpacks it.
package agent

import (
	"encoding/json"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
)

const (
	// ObserverWorld is the isolated world the recording observer runs in.
	ObserverWorld = "flowrec"
	// ExecutorWorld is the isolated world the replay executor runs in.
	ExecutorWorld = "flowrec-exec"
	// ReportBinding is the Runtime binding the observer reports through.
	ReportBinding = "__flowrecReport"
	// Ack is what a live agent answers to a ping.
	Ack = "active"
)

type envelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Decode unpacks an envelope string into out. Failed envelopes become
// *cdpcontrol.CodedError carrying the agent's code.
func Decode(raw string, out any) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: "invalid agent envelope", Cause: err}
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = cdpcontrol.CodeEvalFailure
		}
		return &cdpcontrol.CodedError{Code: code, Message: env.ErrorMessage}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: "invalid agent data", Cause: err}
	}
	return nil
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + cdpcontrol.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}
