package handler

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/sunoproxy/internal/middleware"
	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/internal/service"
	"github.com/makeasinger/sunoproxy/pkg/response"
)

// MusicFactory builds a provider adapter for the caller's key.
type MusicFactory interface {
	For(apiKey string) service.MusicGenerator
}

// MusicHandler serves the synchronous /api endpoints.
type MusicHandler struct {
	music     MusicFactory
	validator *validator.Validate
}

func NewMusicHandler(music MusicFactory, v *validator.Validate) *MusicHandler {
	return &MusicHandler{
		music:     music,
		validator: v,
	}
}

func (h *MusicHandler) svc(c *fiber.Ctx) service.MusicGenerator {
	return h.music.For(middleware.APIKey(c))
}

// Generate handles POST /api/generate
func (h *MusicHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	audios, err := h.svc(c).Generate(c.UserContext(), req.Prompt, req.MakeInstrumental, req.Model, req.WaitAudio)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, audios)
}

// CustomGenerate handles POST /api/custom_generate
func (h *MusicHandler) CustomGenerate(c *fiber.Ctx) error {
	var req model.CustomGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	audios, err := h.svc(c).CustomGenerate(c.UserContext(), service.CustomParams{
		Prompt:       req.Prompt,
		Tags:         req.Tags,
		Title:        req.Title,
		Instrumental: req.MakeInstrumental,
		Model:        req.Model,
		WaitAudio:    req.WaitAudio,
		NegativeTags: req.NegativeTags,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, audios)
}

// ExtendAudio handles POST /api/extend_audio
func (h *MusicHandler) ExtendAudio(c *fiber.Ctx) error {
	var req model.ExtendAudioRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if strings.TrimSpace(req.AudioID) == "" {
		return response.ValidationError(c, "Audio ID is required", nil)
	}

	audios, err := h.svc(c).ExtendAudio(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, audios)
}

// GenerateLyrics handles POST /api/generate_lyrics
func (h *MusicHandler) GenerateLyrics(c *fiber.Ctx) error {
	var req model.LyricsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	lyrics, err := h.svc(c).GenerateLyrics(c.UserContext(), req.Prompt)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, lyrics)
}

// GenerateStems handles POST /api/generate_stems
func (h *MusicHandler) GenerateStems(c *fiber.Ctx) error {
	var req model.StemsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	audios, err := h.svc(c).GenerateStems(c.UserContext(), req.TaskID, req.AudioID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, audios)
}

// Get handles GET /api/get?ids=a,b&page=
func (h *MusicHandler) Get(c *fiber.Ctx) error {
	var ids []string
	if raw := c.Query("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}

	audios, err := h.svc(c).Get(c.UserContext(), ids, c.Query("page"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, audios)
}

// GetAlignedLyrics handles GET /api/get_aligned_lyrics?song_id=&task_id=
func (h *MusicHandler) GetAlignedLyrics(c *fiber.Ctx) error {
	aligned, err := h.svc(c).GetTimestampedLyrics(c.UserContext(), c.Query("task_id"), c.Query("song_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, aligned)
}

// Clip handles GET /api/clip?id=
func (h *MusicHandler) Clip(c *fiber.Ctx) error {
	clip, err := h.svc(c).GetClip(c.UserContext(), c.Query("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, clip)
}

// Concat handles POST /api/concat
func (h *MusicHandler) Concat(c *fiber.Ctx) error {
	var req struct {
		ClipID string `json:"clip_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if strings.TrimSpace(req.ClipID) == "" {
		return response.ValidationError(c, "Clip ID is required", nil)
	}

	clip, err := h.svc(c).Concatenate(c.UserContext(), req.ClipID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, clip)
}

// Persona handles GET /api/persona?id=&page=
func (h *MusicHandler) Persona(c *fiber.Ctx) error {
	id := c.Query("id")
	if id == "" {
		return response.ValidationError(c, "Persona ID is required", nil)
	}
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		return response.ValidationError(c, "page must be a positive integer", nil)
	}

	persona, err := h.svc(c).GetPersonaPaginated(c.UserContext(), id, page)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, persona)
}

// GetLimit handles GET /api/get_limit
func (h *MusicHandler) GetLimit(c *fiber.Ctx) error {
	credits, err := h.svc(c).GetCredits(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, credits)
}
