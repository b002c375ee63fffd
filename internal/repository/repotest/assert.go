package repotest

import "github.com/reproq/reproq/internal/repository"

var (
	_ repository.TaskRunRepository     = (*TaskRun)(nil)
	_ repository.WorkflowRunRepository = (*WorkflowRun)(nil)
	_ repository.WorkerRepository      = (*Worker)(nil)
)
