package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sjperalta/cropcoef-api/internal/cache"
	"github.com/sjperalta/cropcoef-api/internal/export"
	"github.com/sjperalta/cropcoef-api/internal/middleware"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/internal/services"
)

// SubmitProposalRequest is the body of POST /proposals
type SubmitProposalRequest struct {
	SubjectID    string              `json:"subject_id"`
	Coefficients models.Coefficients `json:"coefficients"`
	Provenance   models.Provenance   `json:"provenance"`
	Reason       string              `json:"reason"`
}

// EditProposalRequest is the body of PATCH /proposals/:id
type EditProposalRequest struct {
	ExpectedVersion *int64              `json:"expected_version"`
	Coefficients    models.Coefficients `json:"coefficients"`
	Provenance      models.Provenance   `json:"provenance"`
	Reason          string              `json:"reason"`
}

// DecisionBody is the body of approve and reject
type DecisionBody struct {
	ExpectedVersion *int64 `json:"expected_version"`
	Reason          string `json:"reason"`
}

// RevertBody is the body of POST /proposals/:id/revert
type RevertBody struct {
	ExpectedVersion *int64 `json:"expected_version"`
	EntryID         string `json:"entry_id"`
	Reason          string `json:"reason"`
}

// ProposalHandler serves the proposal review routes
type ProposalHandler struct {
	reviewService *services.ReviewService
	cache         *cache.ProposalCache
}

// NewProposalHandler creates the proposal handler. proposalCache may be nil.
func NewProposalHandler(reviewService *services.ReviewService, proposalCache *cache.ProposalCache) *ProposalHandler {
	return &ProposalHandler{reviewService: reviewService, cache: proposalCache}
}

// @Summary Submit Proposal
// @Description Submit a new crop-coefficient proposal. It starts pending at version 1.
// @Tags Proposals
// @Accept json
// @Produce json
// @Param proposal body SubmitProposalRequest true "Proposal data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals [post]
func (h *ProposalHandler) Create(c *gin.Context) {
	var req SubmitProposalRequest
	if err := BindNestedOrFlat(c, "proposal", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos: " + err.Error()})
		return
	}

	result, err := h.reviewService.Submit(c.Request.Context(), services.SubmitRequest{
		SubjectID:    req.SubjectID,
		Coefficients: req.Coefficients,
		Provenance:   req.Provenance,
		Actor:        middleware.GetActor(c),
		Reason:       req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proposal": result.Proposal, "audit_entry_id": result.AuditEntryID, "message": "Propuesta enviada"})
}

// @Summary Get Proposal
// @Description Get the current state of a live proposal
// @Tags Proposals
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id} [get]
func (h *ProposalHandler) Show(c *gin.Context) {
	id := c.Param("id")
	var (
		p   *models.CoefficientProposal
		err error
	)
	if h.cache != nil {
		p, err = h.cache.Get(c.Request.Context(), id, h.reviewService.Get)
	} else {
		p, err = h.reviewService.Get(c.Request.Context(), id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// @Summary Edit Proposal
// @Description Replace coefficients and provenance of a pending proposal
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path string true "Proposal ID"
// @Param proposal body EditProposalRequest true "New fields and expected version"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id} [patch]
func (h *ProposalHandler) Update(c *gin.Context) {
	var req EditProposalRequest
	if err := BindNestedOrFlat(c, "proposal", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos: " + err.Error()})
		return
	}
	if req.ExpectedVersion == nil {
		respondMissingVersion(c)
		return
	}

	result, err := h.reviewService.Edit(c.Request.Context(), c.Param("id"), services.EditRequest{
		ExpectedVersion: *req.ExpectedVersion,
		Coefficients:    req.Coefficients,
		Provenance:      req.Provenance,
		Actor:           middleware.GetActor(c),
		Reason:          req.Reason,
	})
	respondResult(c, result, err, "Propuesta actualizada")
}

// @Summary Approve Proposal
// @Description Approve a pending proposal (reviewer only)
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path string true "Proposal ID"
// @Param decision body DecisionBody true "Expected version and reason"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id}/approve [post]
func (h *ProposalHandler) Approve(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	result, err := h.reviewService.Approve(c.Request.Context(), c.Param("id"), req)
	respondResult(c, result, err, "Propuesta aprobada")
}

// @Summary Reject Proposal
// @Description Reject a pending proposal (reviewer only)
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path string true "Proposal ID"
// @Param decision body DecisionBody true "Expected version and reason"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id}/reject [post]
func (h *ProposalHandler) Reject(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	result, err := h.reviewService.Reject(c.Request.Context(), c.Param("id"), req)
	respondResult(c, result, err, "Propuesta rechazada")
}

// @Summary Revert Proposal
// @Description Restore the state recorded after an audit entry. The proposal goes back to pending.
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path string true "Proposal ID"
// @Param revert body RevertBody true "Target entry and expected version"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id}/revert [post]
func (h *ProposalHandler) Revert(c *gin.Context) {
	var body RevertBody
	if err := BindNestedOrFlat(c, "revert", &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos: " + err.Error()})
		return
	}
	if body.ExpectedVersion == nil {
		respondMissingVersion(c)
		return
	}
	if body.EntryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry_id es obligatorio", "fields": gin.H{"entry_id": "es obligatorio"}})
		return
	}

	result, err := h.reviewService.Revert(c.Request.Context(), c.Param("id"), services.RevertRequest{
		ExpectedVersion: *body.ExpectedVersion,
		EntryID:         body.EntryID,
		Actor:           middleware.GetActor(c),
		Reason:          body.Reason,
	})
	respondResult(c, result, err, "Propuesta revertida")
}

// @Summary Delete Proposal
// @Description Tombstone a proposal (reviewer only). Its history stays readable.
// @Tags Proposals
// @Produce json
// @Param id path string true "Proposal ID"
// @Param expected_version query int true "Expected version"
// @Param reason query string false "Reason"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id} [delete]
func (h *ProposalHandler) Delete(c *gin.Context) {
	version, err := strconv.ParseInt(c.Query("expected_version"), 10, 64)
	if err != nil {
		respondMissingVersion(c)
		return
	}

	result, err := h.reviewService.Delete(c.Request.Context(), c.Param("id"), services.DecisionRequest{
		ExpectedVersion: version,
		Actor:           middleware.GetActor(c),
		Reason:          c.Query("reason"),
	})
	respondResult(c, result, err, "Propuesta eliminada")
}

// @Summary Proposal History
// @Description Get every audit entry of a proposal, oldest first
// @Tags Proposals
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id}/history [get]
func (h *ProposalHandler) History(c *gin.Context) {
	entries, err := h.reviewService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// @Summary Proposal State At Entry
// @Description Get the proposal fields recorded right after an audit entry
// @Tags Proposals
// @Produce json
// @Param id path string true "Proposal ID"
// @Param entry_id path string true "Audit entry ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Security BearerAuth
// @Router /proposals/{id}/history/{entry_id}/state [get]
func (h *ProposalHandler) State(c *gin.Context) {
	fields, err := h.reviewService.StateAt(c.Request.Context(), c.Param("id"), c.Param("entry_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": fields})
}

// @Summary Export History (XLSX)
// @Description Download the proposal history as an Excel workbook
// @Tags Proposals
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Proposal ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /proposals/{id}/history.xlsx [get]
func (h *ProposalHandler) HistoryXLSX(c *gin.Context) {
	h.exportHistory(c, export.HistoryWorkbook, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
}

// @Summary Export History (PDF)
// @Description Download the proposal history as a PDF
// @Tags Proposals
// @Produce application/pdf
// @Param id path string true "Proposal ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /proposals/{id}/history.pdf [get]
func (h *ProposalHandler) HistoryPDF(c *gin.Context) {
	h.exportHistory(c, export.HistoryPDF, "application/pdf")
}

type historyRenderer func(proposalID string, entries []models.AuditLogEntry) ([]byte, string, error)

func (h *ProposalHandler) exportHistory(c *gin.Context, render historyRenderer, contentType string) {
	id := c.Param("id")
	entries, err := h.reviewService.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrNotFound.Error()})
		return
	}

	data, filename, err := render(id, entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo generar el archivo"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, data)
}

func bindDecision(c *gin.Context) (services.DecisionRequest, bool) {
	var body DecisionBody
	if err := BindNestedOrFlat(c, "decision", &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Datos inválidos: " + err.Error()})
		return services.DecisionRequest{}, false
	}
	if body.ExpectedVersion == nil {
		respondMissingVersion(c)
		return services.DecisionRequest{}, false
	}
	return services.DecisionRequest{
		ExpectedVersion: *body.ExpectedVersion,
		Actor:           middleware.GetActor(c),
		Reason:          body.Reason,
	}, true
}

func respondMissingVersion(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":  "expected_version es obligatorio",
		"fields": gin.H{"expected_version": "es obligatorio"},
	})
}

func respondResult(c *gin.Context, result *services.Result, err error, message string) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": result.Proposal, "audit_entry_id": result.AuditEntryID, "message": message})
}

// StatusFor maps review errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	if status == http.StatusServiceUnavailable {
		body["retryable"] = services.IsRetryable(err)
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}
