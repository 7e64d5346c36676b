package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"prospector/internal/domain"
	"prospector/internal/export"
	"prospector/internal/service"
)

// exportPageSize is how many jobs an export reads per repository call.
const exportPageSize = 100

// ExtractionHandler handles submission, status and review endpoints.
type ExtractionHandler struct {
	extractionService service.ExtractionService
	reviewGate        service.ReviewGate
	schema            domain.FieldSchema
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(extractionService service.ExtractionService, reviewGate service.ReviewGate, schema domain.FieldSchema) *ExtractionHandler {
	return &ExtractionHandler{extractionService: extractionService, reviewGate: reviewGate, schema: schema}
}

// Submit handles POST /api/v1/extractions
// @Summary Submit a document
// @Description Create an extraction job for a document and queue it
// @Tags extractions
// @Accept json
// @Produce json
// @Param request body SubmitRequest true "Document to extract"
// @Success 202 {object} APIResponse{data=domain.ExtractionJob} "Job queued"
// @Failure 400 {object} APIResponse "Validation error"
// @Failure 409 {object} APIResponse "Job already exists"
// @Router /extractions [post]
func (h *ExtractionHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "document_id and file_reference are required")
		return
	}

	job, err := h.extractionService.Submit(c.Request.Context(), &service.SubmitInput{
		DocumentID:    req.DocumentID,
		FileReference: req.FileReference,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondAccepted(c, job)
}

// Get handles GET /api/v1/extractions/:document_id
// @Summary Get an extraction job
// @Tags extractions
// @Produce json
// @Param document_id path string true "Document ID"
// @Success 200 {object} APIResponse{data=domain.ExtractionJob}
// @Failure 404 {object} APIResponse "Job not found"
// @Router /extractions/{document_id} [get]
func (h *ExtractionHandler) Get(c *gin.Context) {
	job, err := h.extractionService.Get(c.Request.Context(), c.Param("document_id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, job)
}

// List handles GET /api/v1/extractions?state=&offset=&limit=
// @Summary List extraction jobs
// @Tags extractions
// @Produce json
// @Param state query string false "Filter by state" Enums(QUEUED, RECOGNIZING, STRUCTURING, READY_FOR_REVIEW, FAILED, APPROVED, REJECTED)
// @Param offset query int false "Pagination offset" default(0)
// @Param limit query int false "Pagination limit" default(20)
// @Success 200 {object} APIResponse{data=[]domain.ExtractionJob,meta=PagMeta}
// @Failure 400 {object} APIResponse "Unknown state"
// @Router /extractions [get]
func (h *ExtractionHandler) List(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	offset, limit := parsePagination(c)

	jobs, total, err := h.extractionService.List(c.Request.Context(), filter, offset, limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondPaginated(c, jobs, PagMeta{Total: total, Offset: offset, Limit: limit})
}

// History handles GET /api/v1/extractions/:document_id/events
// @Summary List a job's transitions
// @Description Committed transition events in order, across every epoch
// @Tags extractions
// @Produce json
// @Param document_id path string true "Document ID"
// @Success 200 {object} APIResponse{data=[]domain.TransitionEvent}
// @Failure 404 {object} APIResponse "Job not found"
// @Router /extractions/{document_id}/events [get]
func (h *ExtractionHandler) History(c *gin.Context) {
	events, err := h.extractionService.History(c.Request.Context(), c.Param("document_id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, events)
}

// Resubmit handles POST /api/v1/extractions/:document_id/resubmit
// @Summary Resubmit a failed job
// @Description Requeue a FAILED job under a new epoch
// @Tags extractions
// @Accept json
// @Produce json
// @Param document_id path string true "Document ID"
// @Param request body ResubmitRequest false "Resubmit policy"
// @Success 202 {object} APIResponse{data=domain.ExtractionJob} "Job requeued"
// @Failure 400 {object} APIResponse "Unknown policy"
// @Failure 404 {object} APIResponse "Job not found"
// @Failure 409 {object} APIResponse "Job is not FAILED"
// @Router /extractions/{document_id}/resubmit [post]
func (h *ExtractionHandler) Resubmit(c *gin.Context) {
	var req ResubmitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
			return
		}
	}

	job, err := h.extractionService.Resubmit(c.Request.Context(), c.Param("document_id"), req.Policy)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondAccepted(c, job)
}

// Approve handles POST /api/v1/extractions/:document_id/approve
// @Summary Approve an extraction
// @Tags review
// @Accept json
// @Produce json
// @Param document_id path string true "Document ID"
// @Param request body ApproveRequest true "Reviewer"
// @Success 200 {object} APIResponse{data=domain.ExtractionJob} "Job approved"
// @Failure 400 {object} APIResponse "Validation error"
// @Failure 404 {object} APIResponse "Job not found"
// @Failure 409 {object} APIResponse "Job is not READY_FOR_REVIEW"
// @Router /extractions/{document_id}/approve [post]
func (h *ExtractionHandler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "reviewer is required")
		return
	}

	job, err := h.reviewGate.Approve(c.Request.Context(), c.Param("document_id"), req.Reviewer)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, job)
}

// Reject handles POST /api/v1/extractions/:document_id/reject
// @Summary Reject an extraction
// @Tags review
// @Accept json
// @Produce json
// @Param document_id path string true "Document ID"
// @Param request body RejectRequest true "Reviewer and reason"
// @Success 200 {object} APIResponse{data=domain.ExtractionJob} "Job rejected"
// @Failure 400 {object} APIResponse "Validation error"
// @Failure 404 {object} APIResponse "Job not found"
// @Failure 409 {object} APIResponse "Job is not READY_FOR_REVIEW"
// @Router /extractions/{document_id}/reject [post]
func (h *ExtractionHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "reviewer is required")
		return
	}

	job, err := h.reviewGate.Reject(c.Request.Context(), c.Param("document_id"), req.Reviewer, req.Reason)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, job)
}

// Export handles GET /api/v1/extractions/export?state=&format=csv|xlsx
// @Summary Export extraction jobs
// @Tags extractions
// @Produce text/csv
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param state query string false "Filter by state"
// @Param format query string false "Export format" Enums(csv, xlsx) default(csv)
// @Success 200 {file} file
// @Failure 400 {object} APIResponse "Unknown state or format"
// @Router /extractions/export [get]
func (h *ExtractionHandler) Export(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "xlsx" {
		RespondError(c, http.StatusBadRequest, "INVALID_FORMAT", "invalid export format; allowed: csv, xlsx")
		return
	}

	var jobs []domain.ExtractionJob
	for offset := 0; ; offset += exportPageSize {
		page, total, err := h.extractionService.List(c.Request.Context(), filter, offset, exportPageSize)
		if err != nil {
			HandleError(c, err)
			return
		}
		jobs = append(jobs, page...)
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	label := "extractions"
	if filter.State != "" {
		label = "extractions_" + string(filter.State)
	}
	filename := export.BuildFilename(label, format, time.Now())

	var buf bytes.Buffer
	var contentType string
	switch format {
	case "xlsx":
		w, err := export.NewXLSXWriter(h.schema)
		if err != nil {
			HandleError(c, err)
			return
		}
		defer w.Close()
		if err := writeAll(w, jobs); err != nil {
			HandleError(c, err)
			return
		}
		if _, err := w.WriteTo(&buf); err != nil {
			HandleError(c, err)
			return
		}
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		buf.Write(export.BOM)
		w := export.NewCSVWriter(&buf, h.schema)
		if err := writeAll(w, jobs); err != nil {
			HandleError(c, err)
			return
		}
		if err := w.Flush(); err != nil {
			HandleError(c, err)
			return
		}
		contentType = "text/csv; charset=utf-8"
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

type rowWriter interface {
	WriteHeader() error
	WriteJobs(jobs []domain.ExtractionJob) error
}

func writeAll(w rowWriter, jobs []domain.ExtractionJob) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	return w.WriteJobs(jobs)
}

// parseFilter reads the optional state query parameter. It writes a 400 and
// returns false for unknown states.
func parseFilter(c *gin.Context) (domain.JobFilter, bool) {
	state := domain.ExtractionState(c.Query("state"))
	if state != "" && !domain.ValidStates[state] {
		RespondError(c, http.StatusBadRequest, "INVALID_STATE", "unknown extraction state: "+string(state))
		return domain.JobFilter{}, false
	}
	return domain.JobFilter{State: state}, true
}

func parsePagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}
