package entity

import "time"

type Webhook struct {
	ID           ID        `json:"id"`
	DeploymentID ID        `json:"deployment_id"`
	Secret       string    `json:"-"`
	BranchFilter string    `json:"branch_filter"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type WebhookDelivery struct {
	ID        ID        `json:"id"`
	WebhookID ID        `json:"webhook_id"`
	Event     string    `json:"event"`
	Ref       string    `json:"ref"`
	CommitSHA string    `json:"commit_sha"`
	Accepted  bool      `json:"accepted"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
