package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/middleware"
	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/pkg/response"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const jobStatusPath = "/api/v2/jobs/"

// JobsHandler serves the asynchronous /api/v2 endpoints.
type JobsHandler struct {
	registry  jobs.Registry
	validator *validator.Validate
}

func NewJobsHandler(registry jobs.Registry, v *validator.Validate) *JobsHandler {
	return &JobsHandler{
		registry:  registry,
		validator: v,
	}
}

// Generate handles POST /api/v2/generate
func (h *JobsHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	run, err := h.registry.Trigger(c.UserContext(), model.TaskGenerateMusic, model.GeneratePayload{
		Prompt:           req.Prompt,
		MakeInstrumental: req.MakeInstrumental,
		Model:            req.Model,
		WaitAudio:        req.WaitAudio,
		APIKey:           middleware.APIKey(c),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, accepted(run.RunID, 0))
}

// Batch handles POST /api/v2/batch
func (h *JobsHandler) Batch(c *fiber.Ctx) error {
	var req model.BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	waitAudio := true
	if req.WaitAudio != nil {
		waitAudio = *req.WaitAudio
	}
	run, err := h.registry.Trigger(c.UserContext(), model.TaskBatchGenerate, model.BatchPayload{
		Prompts:          req.Prompts,
		MakeInstrumental: req.MakeInstrumental,
		Model:            req.Model,
		WaitAudio:        waitAudio,
		APIKey:           middleware.APIKey(c),
		UserID:           req.UserID,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, accepted(run.RunID, len(req.Prompts)))
}

// Status handles GET /api/v2/jobs/:runId
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	job, err := h.registry.Retrieve(c.UserContext(), c.Params("runId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, statusBody(job))
}

// Cancel handles POST /api/v2/jobs/:runId/cancel
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	job, err := h.registry.Cancel(c.UserContext(), c.Params("runId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, statusBody(job))
}

func accepted(runID string, batchSize int) model.JobAcceptedResponse {
	return model.JobAcceptedResponse{
		JobID:          runID,
		Status:         "processing",
		BatchSize:      batchSize,
		CheckStatusURL: jobStatusPath + runID,
	}
}

// statusBody shapes a run snapshot. Output keys of completed runs are merged
// into the top level.
func statusBody(job *model.Job) fiber.Map {
	body := fiber.Map{
		"jobId":          job.ID,
		"taskIdentifier": job.TaskIdentifier,
		"status":         job.Status,
		"attempts":       len(job.Attempts),
		"createdAt":      job.CreatedAt,
		"updatedAt":      job.UpdatedAt,
	}
	if len(job.Metadata) > 0 {
		body["metadata"] = job.Metadata
	}

	switch job.Status {
	case model.JobStatusCompleted:
		var output map[string]any
		if len(job.Output) > 0 && json.Unmarshal(job.Output, &output) == nil {
			for k, v := range output {
				if _, taken := body[k]; !taken {
					body[k] = v
				}
			}
		}
		if _, ok := body["success"]; !ok {
			body["success"] = true
		}
	case model.JobStatusFailed:
		body["success"] = false
		body["error"] = job.Error
		body["attemptDetails"] = job.Attempts
	case model.JobStatusCanceled:
		body["success"] = false
		body["message"] = "Job was canceled"
	case model.JobStatusQueued:
		body["message"] = "Job is queued"
	case model.JobStatusReattempting:
		body["message"] = "Job failed and will be retried"
	default:
		body["message"] = "Job is still processing"
	}
	return body
}
