package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

const SchemaVersion = 1

// State is the persisted session token.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	Username      string    `json:"username"`
	Token         string    `json:"token"`
	Expiry        time.Time `json:"expiry"`
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %d", s.SchemaVersion)
	}
	if s.Token == "" {
		return fmt.Errorf("token is required")
	}
	if s.Expiry.IsZero() {
		return fmt.Errorf("expiry is required")
	}
	return nil
}
