package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"pdfmerge/internal/domain"
	"pdfmerge/internal/infra/logging"
	"pdfmerge/internal/workspace"
)

const (
	cleanupImmediate = "immediate"
	cleanupScheduled = "scheduled"
)

// job is a MergeJob plus the workspace it owns.
type job struct {
	domain.MergeJob
	ws        *workspace.Workspace
	delivered bool
}

// begin allocates the job's workspace. The caller must defer release.
func (s *Service) begin(prefix string) (*job, error) {
	j := &job{MergeJob: domain.MergeJob{
		ID:        uuid.NewString(),
		State:     domain.StateReceived,
		StartedAt: time.Now(),
	}}

	ws, err := s.workspaces.Create(prefix)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "Failed to create workspace")
	}
	j.ws = ws
	s.metrics.WorkspaceOpened()
	logging.Info("Job started", "merge_id", j.ID, "kind", prefix, "workspace", ws.ID())
	return j, nil
}

// release ends the job. A delivered job keeps its workspace for the cleanup
// delay so the output can be streamed; any other outcome removes it now.
func (s *Service) release(j *job) {
	if j.delivered {
		s.transition(j, domain.StateCleanupScheduled)
		s.scheduler.Schedule(func() { s.destroy(j, cleanupScheduled) }, s.cfg.CleanupDelay)
		return
	}
	s.transition(j, domain.StateCleanupImmediate)
	s.destroy(j, cleanupImmediate)
}

func (s *Service) destroy(j *job, mode string) {
	if err := j.ws.Destroy(); err != nil {
		logging.Error("Workspace cleanup failed", "merge_id", j.ID, "mode", mode, "error", err)
	} else {
		logging.Info("Workspace cleaned up", "merge_id", j.ID, "mode", mode)
	}
	s.metrics.WorkspaceClosed(mode)
}

func (s *Service) transition(j *job, to domain.JobState) {
	logging.Debug("Job state", "merge_id", j.ID, "from", string(j.State), "to", string(to))
	j.State = to
}
