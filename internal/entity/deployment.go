package entity

import "time"

type DeploymentStatus string

const (
	DeploymentStatusPending  DeploymentStatus = "pending"
	DeploymentStatusBuilding DeploymentStatus = "building"
	DeploymentStatusStarting DeploymentStatus = "starting"
	DeploymentStatusRunning  DeploymentStatus = "running"
	DeploymentStatusFailed   DeploymentStatus = "failed"
	DeploymentStatusStopped  DeploymentStatus = "stopped"
	DeploymentStatusDeleted  DeploymentStatus = "deleted"
)

type DeploymentKind string

const (
	DeploymentKindApplication DeploymentKind = "application"
	DeploymentKindLLM         DeploymentKind = "llm"
	DeploymentKindDocker      DeploymentKind = "docker"
	DeploymentKindKVM         DeploymentKind = "kvm"
)

// RuntimeDescriptor is either produced by buildpack detection or supplied by
// the user as an override. Commands are fully resolved, no placeholders.
type RuntimeDescriptor struct {
	Framework      string `json:"framework"`
	PackageManager string `json:"package_manager"`
	InstallCommand string `json:"install_command"`
	BuildCommand   string `json:"build_command"`
	StartCommand   string `json:"start_command"`
	Port           int    `json:"port"`
}

type Deployment struct {
	ID            ID                `json:"id"`
	Name          string            `json:"name"`
	RepoURL       string            `json:"repo_url"`
	Branch        string            `json:"branch"`
	Kind          DeploymentKind    `json:"kind"`
	Runtime       RuntimeDescriptor `json:"runtime"`
	Status        DeploymentStatus  `json:"status"`
	Generation    int64             `json:"generation"`
	Port          int               `json:"port"`
	MemoryLimitMB int               `json:"memory_limit_mb"`
	CPULimit      float64           `json:"cpu_limit"`
	SSLEnabled    bool              `json:"ssl_enabled"`
	// SealedEnv holds the deployment's environment variables encrypted at
	// rest. Only the artifact rendering path sees them in the clear.
	SealedEnv     []byte    `json:"-"`
	HealthChecks  bool      `json:"health_checks"`
	Notifications bool      `json:"notifications"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d *Deployment) FillDefaults() {
	if d.Branch == "" {
		d.Branch = "main"
	}
	if d.Kind == "" {
		d.Kind = DeploymentKindApplication
	}
	if d.Status == "" {
		d.Status = DeploymentStatusPending
	}
}
