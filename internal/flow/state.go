package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the guided-collection progress attached to a conversation. It
// is stored as JSON on the conversation row and exists only while a
// collection is in progress.
type State struct {
	ActiveTool      string            `json:"active_tool"`
	CurrentStep     int               `json:"current_step"`
	CollectedFields map[string]string `json:"collected_fields"`
	StartedAt       time.Time         `json:"started_at"`
}

func (s *State) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("flow: encode state: %w", err)
	}
	return raw, nil
}

func DecodeState(raw json.RawMessage) (*State, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("flow: decode state: %w", err)
	}
	if s.CollectedFields == nil {
		s.CollectedFields = map[string]string{}
	}
	return &s, nil
}
