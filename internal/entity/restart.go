package entity

import "time"

type RestartPolicyType string

const (
	RestartPolicyAlways    RestartPolicyType = "always"
	RestartPolicyOnFailure RestartPolicyType = "on_failure"
	RestartPolicyNever     RestartPolicyType = "never"
	RestartPolicyBackoff   RestartPolicyType = "backoff"
)

type RestartPolicy struct {
	ID                 ID                `json:"id"`
	DeploymentID       ID                `json:"deployment_id"`
	Type               RestartPolicyType `json:"type"`
	Enabled            bool              `json:"enabled"`
	MaxRestarts        int               `json:"max_restarts"`
	TimeWindow         time.Duration     `json:"time_window"`
	InitialDelay       time.Duration     `json:"initial_delay"`
	MaxDelay           time.Duration     `json:"max_delay"`
	Multiplier         float64           `json:"multiplier"`
	Cooldown           time.Duration     `json:"cooldown"`
	RequireHealthCheck bool              `json:"require_health_check"`
}

// Validate enforces the structural invariants of a policy.
func (p *RestartPolicy) Validate() error {
	if p.MaxDelay < p.InitialDelay {
		return ErrInvalid
	}
	if p.Type == RestartPolicyBackoff && p.Multiplier <= 1 {
		return ErrInvalid
	}
	return nil
}

type RestartAttempt struct {
	ID            ID            `json:"id"`
	DeploymentID  ID            `json:"deployment_id"`
	PolicyID      ID            `json:"policy_id,omitempty"`
	AttemptNumber int           `json:"attempt_number"`
	Delay         time.Duration `json:"delay"`
	Reason        string        `json:"reason"`
	// Executed distinguishes evaluations that scheduled a restart from
	// declined ones; only executed attempts count against the retry budget.
	Executed     bool      `json:"executed"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}
