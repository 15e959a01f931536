package handlers

import (
	"github.com/sjperalta/cropcoef-api/internal/cache"
	"github.com/sjperalta/cropcoef-api/internal/services"
)

// Handlers holds all handler instances
type Handlers struct {
	Health   *HealthHandler
	Proposal *ProposalHandler
	Job      *JobHandler
}

// NewHandlers creates all handler instances. proposalCache may be nil.
func NewHandlers(svcs *services.Services, proposalCache *cache.ProposalCache) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(),
		Proposal: NewProposalHandler(svcs.Review, proposalCache),
		Job:      NewJobHandler(svcs.Job),
	}
}
