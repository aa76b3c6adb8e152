package task

// Task names shared between submitters and the components that register
// their implementations.
const (
	NameDeploy      = "deployment.deploy"
	NameBuild       = "deployment.build"
	NameStart       = "deployment.start"
	NameStop        = "deployment.stop"
	NameHealthCheck = "deployment.health_check"
)
