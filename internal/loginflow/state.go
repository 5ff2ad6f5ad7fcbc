package loginflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/session"
)

// Step is one state of the login state machine.
type Step string

const (
	StepStart             Step = "START"
	StepToken             Step = "TOKEN"
	StepSetPassword       Step = "SET_PASSWORD"
	StepCreateUser        Step = "CREATE_USER"
	StepDelegatedRedirect Step = "DELEGATED_REDIRECT"
	StepResume            Step = "RESUME"
	StepSucceed           Step = "SUCCEED"
	StepAbandon           Step = "ABANDON"
)

// Terminal reports whether the flow ends at s.
func (s Step) Terminal() bool { return s == StepSucceed || s == StepAbandon }

// ActivationChallenge survives exactly one extra round trip: the user
// re-submits the emailed code. Only the argon2id hash of the chosen password
// is kept.
type ActivationChallenge struct {
	Code         string    `json:"code"`
	PasswordHash string    `json:"password_hash"`
	Email        string    `json:"email"`
	IssuedAt     time.Time `json:"issued_at"`
}

// FlowState is the progress marker of one attempt.
type FlowState struct {
	Step      Step                 `json:"step"`
	Provider  string               `json:"provider"`
	AttemptID string               `json:"attempt_id"`
	Challenge *ActivationChallenge `json:"challenge,omitempty"`
}

const stateKeyPrefix = "fedlogin.state."

func stateKey(provider string) string { return stateKeyPrefix + provider }

// loadState returns the stored state for provider, or nil when there is none.
func loadState(c session.Carrier, provider string) (*FlowState, error) {
	raw, ok := c.Get(stateKey(provider))
	if !ok || raw == "" {
		return nil, nil
	}
	var st FlowState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode flow state: %w", err)
	}
	if st.Provider != provider || st.AttemptID == "" {
		return nil, fmt.Errorf("decode flow state: inconsistent record")
	}
	return &st, nil
}

func saveState(c session.Carrier, st *FlowState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	c.Put(stateKey(st.Provider), string(b))
	return nil
}

func clearState(c session.Carrier, provider string) {
	c.Delete(stateKey(provider))
}
