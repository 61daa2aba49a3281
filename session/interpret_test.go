package session

import (
	"testing"

	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/types"
)

func TestInterpret(t *testing.T) {
	pr := &devin.PullRequest{URL: "https://github.com/x/y/pull/1"}

	tests := []struct {
		name      string
		enum      string
		pr        *devin.PullRequest
		want      types.SessionStatus
		wantKnown bool
	}{
		{"working", devin.RemoteWorking, nil, types.SessionWorking, true},
		{"working with pr", devin.RemoteWorking, pr, types.SessionWorking, true},
		{"suspend_requested", devin.RemoteSuspendReq, nil, types.SessionWorking, true},
		{"resume_requested", devin.RemoteResumeRequested, nil, types.SessionWorking, true},
		{"resumed", devin.RemoteResumed, nil, types.SessionWorking, true},
		{"finished", devin.RemoteFinished, nil, types.SessionSuccess, true},
		{"finished with pr", devin.RemoteFinished, pr, types.SessionSuccess, true},
		{"blocked with pr is success", devin.RemoteBlocked, pr, types.SessionSuccess, true},
		{"blocked without pr", devin.RemoteBlocked, nil, types.SessionBlocked, true},
		{"expired", devin.RemoteExpired, nil, types.SessionTimeout, true},
		{"expired with pr", devin.RemoteExpired, pr, types.SessionTimeout, true},
		{"unknown keeps polling", "hibernating", nil, types.SessionWorking, false},
		{"empty keeps polling", "", nil, types.SessionWorking, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := Interpret(&devin.SessionDetail{StatusEnum: tt.enum, PullRequest: tt.pr})
			if got != tt.want || known != tt.wantKnown {
				t.Errorf("Interpret = (%s, %v), want (%s, %v)", got, known, tt.want, tt.wantKnown)
			}
		})
	}
}

func TestPRURL_FallsBackToStructuredOutput(t *testing.T) {
	detail := &devin.SessionDetail{
		StructuredOutput: &types.StructuredOutput{PRURL: "https://github.com/x/y/pull/2"},
	}
	if got := PRURL(detail); got != "https://github.com/x/y/pull/2" {
		t.Errorf("PRURL = %q", got)
	}

	detail.PullRequest = &devin.PullRequest{URL: "https://github.com/x/y/pull/3"}
	if got := PRURL(detail); got != "https://github.com/x/y/pull/3" {
		t.Errorf("PRURL with top-level = %q, want top-level to win", got)
	}

	if got := PRURL(&devin.SessionDetail{}); got != "" {
		t.Errorf("PRURL empty detail = %q", got)
	}
}
