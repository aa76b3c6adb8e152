package lifecycle

import "github.com/DagiiM/webops-sub005/internal/entity"

// transitions is the full edge set of the deployment state machine. An edge
// absent here is illegal, full stop.
var transitions = map[entity.DeploymentStatus][]entity.DeploymentStatus{
	entity.DeploymentStatusPending: {
		entity.DeploymentStatusBuilding,
		entity.DeploymentStatusDeleted,
	},
	entity.DeploymentStatusBuilding: {
		entity.DeploymentStatusStarting,
		entity.DeploymentStatusFailed,
		entity.DeploymentStatusDeleted,
	},
	entity.DeploymentStatusStarting: {
		entity.DeploymentStatusRunning,
		entity.DeploymentStatusFailed,
		entity.DeploymentStatusStopped,
		entity.DeploymentStatusDeleted,
	},
	entity.DeploymentStatusRunning: {
		entity.DeploymentStatusFailed,
		entity.DeploymentStatusStopped,
		entity.DeploymentStatusDeleted,
	},
	entity.DeploymentStatusFailed: {
		entity.DeploymentStatusBuilding,
		entity.DeploymentStatusStarting,
		entity.DeploymentStatusDeleted,
	},
	entity.DeploymentStatusStopped: {
		entity.DeploymentStatusBuilding,
		entity.DeploymentStatusStarting,
		entity.DeploymentStatusDeleted,
	},
	entity.DeploymentStatusDeleted: {},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to entity.DeploymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
