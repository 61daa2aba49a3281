// Package session builds remediation sessions: interpreting remote API
// responses into internal statuses, assembling dispatch prompts, and
// creating sessions through the idempotency ledger.
package session

import (
	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/types"
)

// Interpret maps a remote session response onto the internal status model.
// The second return is false for status values this build does not know;
// those map to working so new remote statuses never abort a run.
//
// A blocked session with a pull request counts as success: the remote
// blocks after opening the PR while it waits for human approval.
func Interpret(detail *devin.SessionDetail) (types.SessionStatus, bool) {
	hasPR := detail.PullRequest != nil && detail.PullRequest.URL != ""

	switch detail.StatusEnum {
	case devin.RemoteWorking, devin.RemoteSuspendReq, devin.RemoteResumeRequested, devin.RemoteResumed:
		return types.SessionWorking, true
	case devin.RemoteFinished:
		return types.SessionSuccess, true
	case devin.RemoteBlocked:
		if hasPR {
			return types.SessionSuccess, true
		}
		return types.SessionBlocked, true
	case devin.RemoteExpired:
		return types.SessionTimeout, true
	}
	return types.SessionWorking, false
}

// PRURL extracts the pull request URL from a remote response, falling back
// to the structured output when the top-level field is absent.
func PRURL(detail *devin.SessionDetail) string {
	if detail.PullRequest != nil && detail.PullRequest.URL != "" {
		return detail.PullRequest.URL
	}
	if detail.StructuredOutput != nil {
		return detail.StructuredOutput.PRURL
	}
	return ""
}

// ErrorMessage extracts the remote-reported error message, if any.
func ErrorMessage(detail *devin.SessionDetail) string {
	if detail.StructuredOutput != nil {
		return detail.StructuredOutput.ErrorMessage
	}
	return ""
}
