package services

import (
	"github.com/sjperalta/cropcoef-api/internal/jobs"
	"github.com/sjperalta/cropcoef-api/internal/repository"
	"gorm.io/gorm"
)

// Services holds all service instances
type Services struct {
	Review *ReviewService
	Job    *JobService
}

// NewServices creates all service instances and subscribes the given
// listeners to committed mutations.
func NewServices(db *gorm.DB, repos *repository.Repositories, worker *jobs.Worker, listeners ...Listener) *Services {
	review := NewReviewService(db, repos, worker)
	for _, l := range listeners {
		review.Subscribe(l)
	}

	return &Services{
		Review: review,
		Job:    NewJobService(worker),
	}
}
