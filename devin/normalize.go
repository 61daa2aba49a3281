package devin

import (
	"encoding/json"
	"fmt"
)

// The API has returned both bare arrays and wrapped envelopes for listing
// endpoints across versions. Accept either shape.

type sessionEnvelope struct {
	Sessions []SessionDetail `json:"sessions"`
	Total    int             `json:"total"`
}

type playbookEnvelope struct {
	Playbooks []Playbook `json:"playbooks"`
}

// decodeSessions parses a session listing from a bare array or a
// {sessions, total} envelope.
func decodeSessions(data []byte) ([]SessionDetail, error) {
	var list []SessionDetail
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var env sessionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unrecognized session list shape: %w", err)
	}
	return env.Sessions, nil
}

// decodePlaybooks parses a playbook listing from a bare array or a
// {playbooks} envelope.
func decodePlaybooks(data []byte) ([]Playbook, error) {
	var list []Playbook
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var env playbookEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unrecognized playbook list shape: %w", err)
	}
	return env.Playbooks, nil
}
