package services

import (
	"github.com/sjperalta/cropcoef-api/internal/jobs"
)

type JobService struct {
	worker *jobs.Worker
}

func NewJobService(worker *jobs.Worker) *JobService {
	return &JobService{
		worker: worker,
	}
}

// GetStatus reports listener dispatch activity
func (s *JobService) GetStatus() jobs.WorkerStats {
	if s.worker == nil {
		return jobs.WorkerStats{}
	}
	return s.worker.GetStats()
}
