package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// successCode is the envelope code the upstream uses for success.
const successCode = 200

// MusicProvider is the upstream surface consumed by the music service.
type MusicProvider interface {
	SubmitGenerate(ctx context.Context, req *GenerateInput) (string, error)
	GetTaskInfo(ctx context.Context, taskID string) (*TaskInfo, error)
	PollTask(ctx context.Context, taskID string) ([]ProviderAudio, error)
	SubmitLyrics(ctx context.Context, prompt string) (string, error)
	GetLyricsInfo(ctx context.Context, taskID string) (*LyricsInfo, error)
	PollLyrics(ctx context.Context, taskID string) ([]LyricsRecord, error)
	GetCredits(ctx context.Context) (float64, error)
	SubmitStems(ctx context.Context, taskID, audioID string) (string, error)
	GetTimestampedLyrics(ctx context.Context, taskID, audioID string) (map[string]any, error)
}

// SunoClient implements MusicProvider for one bearer key. It holds no
// mutable state and may be shared by concurrent callers.
type SunoClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	callbackURL string
	musicPoll   Poller
	lyricsPoll  Poller
	logger      zerolog.Logger
}

// Option customizes a SunoClient.
type Option func(*SunoClient)

// WithHTTPClient shares a transport between clients built for different keys.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *SunoClient) {
		c.httpClient = hc
	}
}

// WithPolling overrides the music and lyrics poll cadence.
func WithPolling(music, lyrics Poller) Option {
	return func(c *SunoClient) {
		c.musicPoll = music
		c.lyricsPoll = lyrics
	}
}

// GenerateInput is the body of POST /generate
type GenerateInput struct {
	Prompt       string `json:"prompt,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	NegativeTags string `json:"negativeTags,omitempty"`
	CallBackURL  string `json:"callBackUrl,omitempty"`
}

// TaskInfo is the data of GET /generate/record-info
type TaskInfo struct {
	TaskID       string        `json:"taskId"`
	Status       string        `json:"status"`
	ErrorMessage string        `json:"errorMessage"`
	Response     *TaskResponse `json:"response"`
}

// TaskResponse holds the tracks of a task. Older payloads use "data",
// newer ones "sunoData".
type TaskResponse struct {
	Data     []ProviderAudio `json:"data"`
	SunoData []ProviderAudio `json:"sunoData"`
}

// Tracks returns whichever track list the upstream populated.
func (r *TaskResponse) Tracks() []ProviderAudio {
	if r == nil {
		return nil
	}
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.SunoData
}

// ProviderAudio is a track as the upstream reports it, in either casing.
type ProviderAudio struct {
	ID                string              `json:"id"`
	Title             string              `json:"title"`
	ImageURL          string              `json:"imageUrl"`
	ImageURLSnake     string              `json:"image_url"`
	AudioURL          string              `json:"audioUrl"`
	AudioURLSnake     string              `json:"audio_url"`
	VideoURL          string              `json:"videoUrl"`
	VideoURLSnake     string              `json:"video_url"`
	Lyric             string              `json:"lyric"`
	Prompt            string              `json:"prompt"`
	ModelName         string              `json:"modelName"`
	ModelNameSnake    string              `json:"model_name"`
	Tags              string              `json:"tags"`
	NegativeTags      string              `json:"negativeTags"`
	NegativeTagsSnake string              `json:"negative_tags"`
	Duration          float64             `json:"duration"`
	Status            string              `json:"status"`
	ErrorMessage      string              `json:"errorMessage"`
	CreateTime        jsoniter.RawMessage `json:"createTime"`
	CreatedAt         string              `json:"created_at"`
}

// MediaURL returns the audio URL regardless of field casing.
func (p ProviderAudio) MediaURL() string {
	return firstNonEmpty(p.AudioURL, p.AudioURLSnake)
}

// Normalize converts an upstream track into the public Audio shape.
func (p ProviderAudio) Normalize(taskStatus string) model.Audio {
	status := p.Status
	if status == "" || strings.EqualFold(status, "complete") {
		status = taskStatus
	}
	return model.Audio{
		ID:           p.ID,
		Title:        p.Title,
		ImageURL:     firstNonEmpty(p.ImageURL, p.ImageURLSnake),
		Lyric:        firstNonEmpty(p.Lyric, p.Prompt),
		AudioURL:     p.MediaURL(),
		VideoURL:     firstNonEmpty(p.VideoURL, p.VideoURLSnake),
		CreatedAt:    p.createdAt(),
		ModelName:    firstNonEmpty(p.ModelName, p.ModelNameSnake),
		Prompt:       p.Prompt,
		Status:       status,
		Tags:         p.Tags,
		NegativeTags: firstNonEmpty(p.NegativeTags, p.NegativeTagsSnake),
		Duration:     p.Duration,
		ErrorMessage: p.ErrorMessage,
	}
}

func (p ProviderAudio) createdAt() time.Time {
	if raw := strings.Trim(string(p.CreateTime), `"`); raw != "" && raw != "null" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	if p.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// LyricsInfo is the data of GET /lyrics/record-info
type LyricsInfo struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     *struct {
		Data []LyricsRecord `json:"data"`
	} `json:"response"`
}

// LyricsRecord is one lyric candidate.
type LyricsRecord struct {
	Text         string `json:"text"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

type envelope struct {
	Code int                 `json:"code"`
	Msg  string              `json:"msg"`
	Data jsoniter.RawMessage `json:"data"`
}

type taskCreated struct {
	TaskID string `json:"taskId"`
}

// NewSunoClient creates a client bound to apiKey.
func NewSunoClient(cfg *config.SunoConfig, apiKey string, opts ...Option) *SunoClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &SunoClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      apiKey,
		callbackURL: cfg.CallbackURL,
		musicPoll:   MusicPoll,
		lyricsPoll:  LyricsPoll,
		logger:      log.With().Str("component", "suno").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitGenerate creates a generation task and returns its id
func (c *SunoClient) SubmitGenerate(ctx context.Context, req *GenerateInput) (string, error) {
	body := *req
	if body.CallBackURL == "" {
		body.CallBackURL = c.callbackURL
	}
	var created taskCreated
	if err := c.post(ctx, "/generate", &body, &created); err != nil {
		return "", err
	}
	if created.TaskID == "" {
		return "", apperr.Upstream(0, "upstream returned no taskId")
	}
	return created.TaskID, nil
}

// GetTaskInfo retrieves the status of a generation task
func (c *SunoClient) GetTaskInfo(ctx context.Context, taskID string) (*TaskInfo, error) {
	var info TaskInfo
	if err := c.get(ctx, "/generate/record-info", url.Values{"taskId": {taskID}}, &info); err != nil {
		return nil, err
	}
	if info.TaskID == "" {
		info.TaskID = taskID
	}
	return &info, nil
}

// SubmitLyrics creates a lyrics task and returns its id
func (c *SunoClient) SubmitLyrics(ctx context.Context, prompt string) (string, error) {
	body := map[string]string{"prompt": prompt}
	if c.callbackURL != "" {
		body["callBackUrl"] = c.callbackURL
	}
	var created taskCreated
	if err := c.post(ctx, "/lyrics", body, &created); err != nil {
		return "", err
	}
	if created.TaskID == "" {
		return "", apperr.Upstream(0, "upstream returned no taskId")
	}
	return created.TaskID, nil
}

// GetLyricsInfo retrieves the status of a lyrics task
func (c *SunoClient) GetLyricsInfo(ctx context.Context, taskID string) (*LyricsInfo, error) {
	var info LyricsInfo
	if err := c.get(ctx, "/lyrics/record-info", url.Values{"taskId": {taskID}}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetCredits returns the remaining credit balance
func (c *SunoClient) GetCredits(ctx context.Context) (float64, error) {
	var raw jsoniter.RawMessage
	if err := c.get(ctx, "/generate/credit", nil, &raw); err != nil {
		return 0, err
	}
	credits, err := parseCredits(string(raw))
	if err != nil {
		return 0, apperr.Upstream(0, fmt.Sprintf("malformed credit balance: %s", raw))
	}
	return credits, nil
}

// SubmitStems starts vocal separation for one track of a finished task
func (c *SunoClient) SubmitStems(ctx context.Context, taskID, audioID string) (string, error) {
	body := map[string]string{"taskId": taskID, "audioId": audioID}
	if c.callbackURL != "" {
		body["callBackUrl"] = c.callbackURL
	}
	var created taskCreated
	if err := c.post(ctx, "/vocal-removal/generate", body, &created); err != nil {
		return "", err
	}
	if created.TaskID == "" {
		return "", apperr.Upstream(0, "upstream returned no taskId")
	}
	return created.TaskID, nil
}

// GetTimestampedLyrics returns the aligned lyrics object for a track
func (c *SunoClient) GetTimestampedLyrics(ctx context.Context, taskID, audioID string) (map[string]any, error) {
	var out map[string]any
	q := url.Values{"taskId": {taskID}, "audioId": {audioID}}
	if err := c.get(ctx, "/get-timestamped-lyrics", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PollTask polls record-info until the task succeeds with playable tracks,
// fails, or the music poll deadline passes.
func (c *SunoClient) PollTask(ctx context.Context, taskID string) ([]ProviderAudio, error) {
	var tracks []ProviderAudio
	err := c.musicPoll.Until(ctx, taskID, func(ctx context.Context) (bool, error) {
		info, err := c.GetTaskInfo(ctx, taskID)
		if err != nil {
			return false, err
		}
		c.logger.Debug().Str("task_id", taskID).Str("status", info.Status).Msg("poll music")
		if model.IsTaskFailure(info.Status) {
			return false, apperr.GenerationFailed(failureMessage(info.Status, info.ErrorMessage))
		}
		if info.Status != model.TaskStatusSuccess {
			return false, nil
		}
		found := info.Response.Tracks()
		if len(found) == 0 {
			return false, nil
		}
		for _, t := range found {
			if t.MediaURL() == "" {
				return false, nil
			}
		}
		tracks = found
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

// PollLyrics polls the lyrics record until it succeeds or fails
func (c *SunoClient) PollLyrics(ctx context.Context, taskID string) ([]LyricsRecord, error) {
	var records []LyricsRecord
	err := c.lyricsPoll.Until(ctx, taskID, func(ctx context.Context) (bool, error) {
		info, err := c.GetLyricsInfo(ctx, taskID)
		if err != nil {
			return false, err
		}
		c.logger.Debug().Str("task_id", taskID).Str("status", info.Status).Msg("poll lyrics")
		if model.IsTaskFailure(info.Status) {
			return false, apperr.GenerationFailed(failureMessage(info.Status, info.ErrorMessage))
		}
		if info.Status != model.TaskStatusSuccess || info.Response == nil || len(info.Response.Data) == 0 {
			return false, nil
		}
		records = info.Response.Data
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// IsConfigured returns true if the client has a bearer key
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}

// post sends a POST request with JSON body
func (c *SunoClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return apperr.Internal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return apperr.Internal(fmt.Errorf("create request: %w", err))
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *SunoClient) get(ctx context.Context, endpoint string, query url.Values, result interface{}) error {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return apperr.Internal(fmt.Errorf("create request: %w", err))
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request, unwraps the {code,msg,data} envelope
// and decodes data into result.
func (c *SunoClient) doRequest(req *http.Request, result interface{}) error {
	if c.apiKey == "" {
		return apperr.Validation("Suno API key is required")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", req.Method).Str("path", req.URL.Path).Msg("upstream request failed")
		return apperr.Transport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transport(fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("upstream call")

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && env.Msg != "" {
			msg = env.Msg
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return apperr.Upstream(resp.StatusCode, msg)
	}

	if decodeErr != nil {
		return apperr.Upstream(0, fmt.Sprintf("malformed upstream response: %v", decodeErr))
	}

	if env.Code != successCode {
		return apperr.Upstream(env.Code, env.Msg)
	}

	if result == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return apperr.Upstream(0, fmt.Sprintf("malformed upstream data: %v", err))
	}
	return nil
}

func failureMessage(status, msg string) string {
	if msg != "" {
		return msg
	}
	if status == model.TaskStatusFailed {
		return "unknown"
	}
	return status
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseCredits accepts numeric or string credit payloads.
func parseCredits(raw string) (float64, error) {
	return strconv.ParseFloat(strings.Trim(strings.TrimSpace(raw), `"`), 64)
}
