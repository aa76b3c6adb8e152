package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

type Deployment struct {
	gorm.Model
	Name          string `gorm:"uniqueIndex"`
	RepoURL       string
	Branch        string
	Kind          string
	Framework     string
	PkgManager    string
	InstallCmd    string
	BuildCmd      string
	StartCmd      string
	RuntimePort   int
	Status        string `gorm:"index"`
	Generation    int64
	Port          int
	MemoryLimitMB int
	CPULimit      float64
	SSLEnabled    bool
	SealedEnv     []byte
	HealthChecks  bool
	Notifications bool
	LastError     string
}

func (d *Deployment) ToEntity() *entity.Deployment {
	return &entity.Deployment{
		ID:      entity.NewID(d.ID),
		Name:    d.Name,
		RepoURL: d.RepoURL,
		Branch:  d.Branch,
		Kind:    entity.DeploymentKind(d.Kind),
		Runtime: entity.RuntimeDescriptor{
			Framework:      d.Framework,
			PackageManager: d.PkgManager,
			InstallCommand: d.InstallCmd,
			BuildCommand:   d.BuildCmd,
			StartCommand:   d.StartCmd,
			Port:           d.RuntimePort,
		},
		Status:        entity.DeploymentStatus(d.Status),
		Generation:    d.Generation,
		Port:          d.Port,
		MemoryLimitMB: d.MemoryLimitMB,
		CPULimit:      d.CPULimit,
		SSLEnabled:    d.SSLEnabled,
		SealedEnv:     d.SealedEnv,
		HealthChecks:  d.HealthChecks,
		Notifications: d.Notifications,
		LastError:     d.LastError,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func (d *Deployment) FromEntity(e *entity.Deployment) {
	if !e.ID.IsZero() {
		d.ID = e.ID.Uint()
	}
	d.Name = e.Name
	d.RepoURL = e.RepoURL
	d.Branch = e.Branch
	d.Kind = string(e.Kind)
	d.Framework = e.Runtime.Framework
	d.PkgManager = e.Runtime.PackageManager
	d.InstallCmd = e.Runtime.InstallCommand
	d.BuildCmd = e.Runtime.BuildCommand
	d.StartCmd = e.Runtime.StartCommand
	d.RuntimePort = e.Runtime.Port
	d.Status = string(e.Status)
	d.Generation = e.Generation
	d.Port = e.Port
	d.MemoryLimitMB = e.MemoryLimitMB
	d.CPULimit = e.CPULimit
	d.SSLEnabled = e.SSLEnabled
	d.SealedEnv = e.SealedEnv
	d.HealthChecks = e.HealthChecks
	d.Notifications = e.Notifications
	d.LastError = e.LastError
}

type RestartPolicy struct {
	gorm.Model
	DeploymentID       uint `gorm:"uniqueIndex"`
	Deployment         Deployment
	Type               string
	Enabled            bool
	MaxRestarts        int
	TimeWindowSec      int64
	InitialDelaySec    int64
	MaxDelaySec        int64
	Multiplier         float64
	CooldownSec        int64
	RequireHealthCheck bool
}

func (p *RestartPolicy) ToEntity() *entity.RestartPolicy {
	return &entity.RestartPolicy{
		ID:                 entity.NewID(p.ID),
		DeploymentID:       entity.NewID(p.DeploymentID),
		Type:               entity.RestartPolicyType(p.Type),
		Enabled:            p.Enabled,
		MaxRestarts:        p.MaxRestarts,
		TimeWindow:         time.Duration(p.TimeWindowSec) * time.Second,
		InitialDelay:       time.Duration(p.InitialDelaySec) * time.Second,
		MaxDelay:           time.Duration(p.MaxDelaySec) * time.Second,
		Multiplier:         p.Multiplier,
		Cooldown:           time.Duration(p.CooldownSec) * time.Second,
		RequireHealthCheck: p.RequireHealthCheck,
	}
}

func (p *RestartPolicy) FromEntity(e *entity.RestartPolicy) {
	if !e.ID.IsZero() {
		p.ID = e.ID.Uint()
	}
	p.DeploymentID = e.DeploymentID.Uint()
	p.Type = string(e.Type)
	p.Enabled = e.Enabled
	p.MaxRestarts = e.MaxRestarts
	p.TimeWindowSec = int64(e.TimeWindow / time.Second)
	p.InitialDelaySec = int64(e.InitialDelay / time.Second)
	p.MaxDelaySec = int64(e.MaxDelay / time.Second)
	p.Multiplier = e.Multiplier
	p.CooldownSec = int64(e.Cooldown / time.Second)
	p.RequireHealthCheck = e.RequireHealthCheck
}

type RestartAttempt struct {
	gorm.Model
	DeploymentID  uint `gorm:"index"`
	PolicyID      uint
	AttemptNumber int
	DelayMS       int64
	Reason        string
	Executed      bool
	Success       bool
	ErrorMessage  string
	StartedAt     time.Time `gorm:"index"`
	FinishedAt    *time.Time
}

func (a *RestartAttempt) ToEntity() *entity.RestartAttempt {
	out := &entity.RestartAttempt{
		ID:            entity.NewID(a.ID),
		DeploymentID:  entity.NewID(a.DeploymentID),
		AttemptNumber: a.AttemptNumber,
		Delay:         time.Duration(a.DelayMS) * time.Millisecond,
		Reason:        a.Reason,
		Executed:      a.Executed,
		Success:       a.Success,
		ErrorMessage:  a.ErrorMessage,
		StartedAt:     a.StartedAt,
	}
	if a.PolicyID != 0 {
		out.PolicyID = entity.NewID(a.PolicyID)
	}
	if a.FinishedAt != nil {
		out.FinishedAt = *a.FinishedAt
	}
	return out
}

func (a *RestartAttempt) FromEntity(e *entity.RestartAttempt) {
	if !e.ID.IsZero() {
		a.ID = e.ID.Uint()
	}
	a.DeploymentID = e.DeploymentID.Uint()
	if !e.PolicyID.IsZero() {
		a.PolicyID = e.PolicyID.Uint()
	}
	a.AttemptNumber = e.AttemptNumber
	a.DelayMS = e.Delay.Milliseconds()
	a.Reason = e.Reason
	a.Executed = e.Executed
	a.Success = e.Success
	a.ErrorMessage = e.ErrorMessage
	a.StartedAt = e.StartedAt
	if !e.FinishedAt.IsZero() {
		finished := e.FinishedAt
		a.FinishedAt = &finished
	}
}

type Webhook struct {
	gorm.Model
	DeploymentID uint   `gorm:"index"`
	Secret       string `gorm:"uniqueIndex"`
	BranchFilter string
	Enabled      bool
}

func (w *Webhook) ToEntity() *entity.Webhook {
	return &entity.Webhook{
		ID:           entity.NewID(w.ID),
		DeploymentID: entity.NewID(w.DeploymentID),
		Secret:       w.Secret,
		BranchFilter: w.BranchFilter,
		Enabled:      w.Enabled,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func (w *Webhook) FromEntity(e *entity.Webhook) {
	if !e.ID.IsZero() {
		w.ID = e.ID.Uint()
	}
	w.DeploymentID = e.DeploymentID.Uint()
	w.Secret = e.Secret
	w.BranchFilter = e.BranchFilter
	w.Enabled = e.Enabled
}

type WebhookDelivery struct {
	gorm.Model
	WebhookID uint `gorm:"index"`
	Event     string
	Ref       string
	CommitSHA string
	Accepted  bool
	Message   string
}

func (d *WebhookDelivery) ToEntity() *entity.WebhookDelivery {
	return &entity.WebhookDelivery{
		ID:        entity.NewID(d.ID),
		WebhookID: entity.NewID(d.WebhookID),
		Event:     d.Event,
		Ref:       d.Ref,
		CommitSHA: d.CommitSHA,
		Accepted:  d.Accepted,
		Message:   d.Message,
		CreatedAt: d.CreatedAt,
	}
}

func (d *WebhookDelivery) FromEntity(e *entity.WebhookDelivery) {
	if !e.ID.IsZero() {
		d.ID = e.ID.Uint()
	}
	d.WebhookID = e.WebhookID.Uint()
	d.Event = e.Event
	d.Ref = e.Ref
	d.CommitSHA = e.CommitSHA
	d.Accepted = e.Accepted
	d.Message = e.Message
}
