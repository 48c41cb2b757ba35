package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/client"
	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/model"
	"github.com/makeasinger/sunoproxy/internal/service"
	"github.com/makeasinger/sunoproxy/internal/webhook"
)

// --- fakes ---

type fakeRegistry struct {
	mu        sync.Mutex
	triggered []any
	ids       []string
	jobs      map[string]*model.Job
	wait      *model.WaitResult
	// block makes TriggerAndWait hold until its context ends.
	block bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{jobs: make(map[string]*model.Job)}
}

func (r *fakeRegistry) Trigger(ctx context.Context, id string, payload any) (*model.TriggerResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggered = append(r.triggered, payload)
	r.ids = append(r.ids, id)
	return &model.TriggerResult{RunID: "run_1"}, nil
}

func (r *fakeRegistry) TriggerAndWait(ctx context.Context, id string, payload any) (*model.WaitResult, error) {
	r.mu.Lock()
	r.triggered = append(r.triggered, payload)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.wait, nil
}

func (r *fakeRegistry) Retrieve(ctx context.Context, runID string) (*model.Job, error) {
	j, ok := r.jobs[runID]
	if !ok {
		return nil, apperr.NotFound("Job not found")
	}
	return j, nil
}

func (r *fakeRegistry) Wait(ctx context.Context, runID string, timeout time.Duration) (*model.Job, error) {
	return r.Retrieve(ctx, runID)
}

func (r *fakeRegistry) Cancel(ctx context.Context, runID string) (*model.Job, error) {
	j, err := r.Retrieve(ctx, runID)
	if err != nil {
		return nil, err
	}
	if j.Status.IsTerminal() {
		return nil, apperr.New(apperr.KindConflict, "Job already finished")
	}
	j.Status = model.JobStatusCanceled
	return j, nil
}

type fakeDispatcher struct {
	events []*model.WebhookEvent
	err    error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, event *model.WebhookEvent) error {
	d.events = append(d.events, event)
	return d.err
}

// fakeUpstream answers the provider endpoints and records the bearer keys.
type fakeUpstream struct {
	*httptest.Server
	mu   sync.Mutex
	keys []string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	u := &fakeUpstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.keys = append(u.keys, r.Header.Get("Authorization"))
		u.mu.Unlock()

		var data any
		switch r.URL.Path {
		case "/generate", "/vocal-removal/generate":
			data = map[string]any{"taskId": "T1"}
		case "/generate/credit":
			data = 42
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "msg": "success", "data": data})
	}))
	t.Cleanup(u.Close)
	return u
}

type testEnv struct {
	app        *fiber.App
	registry   *fakeRegistry
	dispatcher *fakeDispatcher
	upstream   *fakeUpstream
}

func newTestEnv(t *testing.T, secret string, production bool) *testEnv {
	t.Helper()
	upstream := newFakeUpstream(t)
	fast := client.Poller{Interval: time.Millisecond, Deadline: 50 * time.Millisecond}
	factory := service.NewMusicFactory(&config.SunoConfig{
		APIKey:  "default-key",
		BaseURL: upstream.URL,
		Timeout: 5,
	}, client.WithPolling(fast, fast))

	reg := newFakeRegistry()
	disp := &fakeDispatcher{}
	v := validator.New()

	app := fiber.New()
	Register(app, Handlers{
		Health:  NewHealthHandler(map[string]bool{"suno": true}, nil),
		Music:   NewMusicHandler(factory, v),
		Jobs:    NewJobsHandler(reg, v),
		Webhook: NewWebhookHandler(secret, production, disp),
		Chat:    NewChatHandler(reg, service.NewPromptEnhancer(nil), v, 50*time.Millisecond),
	})
	return &testEnv{app: app, registry: reg, dispatcher: disp, upstream: upstream}
}

func (e *testEnv) do(t *testing.T, method, path string, body string, headers map[string]string) (int, []byte, http.Header) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

// --- synchronous endpoints ---

func TestGenerate_ReturnsStubWithoutWaiting(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "POST", "/api/generate", `{"prompt":"happy tune","wait_audio":false}`, nil)
	require.Equal(t, 200, status, string(body))

	var audios []model.Audio
	require.NoError(t, json.Unmarshal(body, &audios))
	require.Len(t, audios, 1)
	assert.Equal(t, "T1", audios[0].ID)
	assert.Equal(t, model.TaskStatusGenerating, audios[0].Status)
	assert.Equal(t, "V3_5", audios[0].ModelName)
	assert.Equal(t, []string{"Bearer default-key"}, env.upstream.keys)
}

func TestGenerate_BearerOverridesDefaultKey(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, _, _ := env.do(t, "POST", "/api/generate", `{"prompt":"happy tune"}`, map[string]string{"Authorization": "Bearer caller-key"})
	require.Equal(t, 200, status)
	assert.Equal(t, []string{"Bearer caller-key"}, env.upstream.keys)
}

func TestGenerate_ValidationError(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "POST", "/api/generate", `{"prompt":""}`, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), "VALIDATION_ERROR")
	assert.Empty(t, env.upstream.keys)
}

func TestExtendAudio(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "POST", "/api/extend_audio", `{"prompt":"more"}`, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), "Audio ID is required")

	status, body, _ = env.do(t, "POST", "/api/extend_audio", `{"audio_id":"a1"}`, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), "UNSUPPORTED")
}

func TestGenerateStems(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "POST", "/api/generate_stems", `{}`, nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), "Audio ID is required")

	status, body, _ = env.do(t, "POST", "/api/generate_stems", `{"audio_id":"a1"}`, nil)
	require.Equal(t, 200, status, string(body))
	assert.Contains(t, string(body), `"id":"T1"`)
}

func TestGet_WithoutIDsIsUnsupported(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "GET", "/api/get", "", nil)
	assert.Equal(t, 400, status)
	assert.Contains(t, string(body), "UNSUPPORTED")
}

func TestGetLimit(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "GET", "/api/get_limit", "", nil)
	require.Equal(t, 200, status)
	assert.JSONEq(t, `{"credits_left":42}`, string(body))
}

func TestPersona_RequiresID(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, _, _ := env.do(t, "GET", "/api/persona", "", nil)
	assert.Equal(t, 400, status)
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, _, headers := env.do(t, "OPTIONS", "/api/custom_generate", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "*", headers.Get("Access-Control-Allow-Origin"))
}

// --- asynchronous endpoints ---

func TestV2Generate_Accepted(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "POST", "/api/v2/generate", `{"prompt":"lofi"}`, map[string]string{"Authorization": "Bearer k1"})
	require.Equal(t, 202, status)
	assert.JSONEq(t, `{"jobId":"run_1","status":"processing","checkStatusUrl":"/api/v2/jobs/run_1"}`, string(body))

	require.Len(t, env.registry.triggered, 1)
	p := env.registry.triggered[0].(model.GeneratePayload)
	assert.Equal(t, "lofi", p.Prompt)
	assert.Equal(t, "k1", p.APIKey)
	assert.Equal(t, model.TaskGenerateMusic, env.registry.ids[0])
}

func TestV2Batch(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "POST", "/api/v2/batch", `{"prompts":["a","b","c"]}`, nil)
	require.Equal(t, 202, status)
	assert.JSONEq(t, `{"jobId":"run_1","status":"processing","batchSize":3,"checkStatusUrl":"/api/v2/jobs/run_1"}`, string(body))

	p := env.registry.triggered[0].(model.BatchPayload)
	assert.True(t, p.WaitAudio)
	assert.Equal(t, model.TaskBatchGenerate, env.registry.ids[0])
}

func TestV2Batch_RejectsBadSizes(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, _, _ := env.do(t, "POST", "/api/v2/batch", `{"prompts":[]}`, nil)
	assert.Equal(t, 400, status)

	prompts := make([]string, 51)
	for i := range prompts {
		prompts[i] = "p"
	}
	raw, _ := json.Marshal(map[string]any{"prompts": prompts})
	status, _, _ = env.do(t, "POST", "/api/v2/batch", string(raw), nil)
	assert.Equal(t, 400, status)
	assert.Empty(t, env.registry.triggered)
}

func TestPromptLengthBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		length int
		want   int
	}{
		{name: "generate one char", path: "/api/generate", length: 1, want: 200},
		{name: "generate at max", path: "/api/generate", length: 500, want: 200},
		{name: "generate over max", path: "/api/generate", length: 501, want: 400},
		{name: "v2 generate one char", path: "/api/v2/generate", length: 1, want: 202},
		{name: "v2 generate at max", path: "/api/v2/generate", length: 500, want: 202},
		{name: "v2 generate over max", path: "/api/v2/generate", length: 501, want: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "", false)
			raw, err := json.Marshal(map[string]string{"prompt": strings.Repeat("a", tt.length)})
			require.NoError(t, err)

			status, body, _ := env.do(t, "POST", tt.path, string(raw), nil)
			assert.Equal(t, tt.want, status, string(body))
			if tt.want == 400 {
				assert.Contains(t, string(body), "VALIDATION_ERROR")
				assert.Empty(t, env.registry.triggered)
				assert.Empty(t, env.upstream.keys)
			}
		})
	}
}

func TestV2Batch_SizeBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		promptLen int
		want      int
	}{
		{name: "single prompt", size: 1, promptLen: 1, want: 202},
		{name: "max prompts", size: 50, promptLen: 1, want: 202},
		{name: "over max prompts", size: 51, promptLen: 1, want: 400},
		{name: "prompt at max length", size: 2, promptLen: 500, want: 202},
		{name: "prompt over max length", size: 2, promptLen: 501, want: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "", false)
			prompts := make([]string, tt.size)
			for i := range prompts {
				prompts[i] = strings.Repeat("p", tt.promptLen)
			}
			raw, err := json.Marshal(map[string]any{"prompts": prompts})
			require.NoError(t, err)

			status, body, _ := env.do(t, "POST", "/api/v2/batch", string(raw), nil)
			require.Equal(t, tt.want, status, string(body))
			if tt.want != 202 {
				assert.Empty(t, env.registry.triggered)
				return
			}
			p := env.registry.triggered[0].(model.BatchPayload)
			assert.Len(t, p.Prompts, tt.size)
		})
	}
}

func TestJobStatus(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.registry.jobs["done"] = &model.Job{
		ID:     "done",
		Status: model.JobStatusCompleted,
		Output: []byte(`{"success":true,"data":[{"id":"a1"}]}`),
	}
	env.registry.jobs["busy"] = &model.Job{ID: "busy", Status: model.JobStatusExecuting}
	env.registry.jobs["bad"] = &model.Job{ID: "bad", Status: model.JobStatusFailed, Error: "boom"}

	status, body, _ := env.do(t, "GET", "/api/v2/jobs/done", "", nil)
	require.Equal(t, 200, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, true, got["success"])
	assert.NotNil(t, got["data"])
	assert.Equal(t, "COMPLETED", got["status"])

	_, body, _ = env.do(t, "GET", "/api/v2/jobs/busy", "", nil)
	got = nil
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotEmpty(t, got["message"])

	_, body, _ = env.do(t, "GET", "/api/v2/jobs/bad", "", nil)
	got = nil
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "boom", got["error"])

	status, _, _ = env.do(t, "GET", "/api/v2/jobs/missing", "", nil)
	assert.Equal(t, 404, status)
}

func TestJobCancel(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.registry.jobs["busy"] = &model.Job{ID: "busy", Status: model.JobStatusExecuting}
	env.registry.jobs["done"] = &model.Job{ID: "done", Status: model.JobStatusCompleted}

	status, body, _ := env.do(t, "POST", "/api/v2/jobs/busy/cancel", "", nil)
	require.Equal(t, 200, status)
	assert.Contains(t, string(body), "CANCELED")

	status, _, _ = env.do(t, "POST", "/api/v2/jobs/done/cancel", "", nil)
	assert.Equal(t, 409, status)

	status, _, _ = env.do(t, "POST", "/api/v2/jobs/missing/cancel", "", nil)
	assert.Equal(t, 404, status)
}

// --- webhook ---

const completedEvent = `{"type":"run.completed","run":{"id":"run_1","taskIdentifier":"generate-music","status":"COMPLETED","output":{"success":true}}}`

func TestWebhook_ValidSignature(t *testing.T) {
	env := newTestEnv(t, "s3cret", true)

	sig := webhook.Sign("s3cret", []byte(completedEvent))
	status, body, _ := env.do(t, "POST", "/api/v2/webhooks/trigger", completedEvent, map[string]string{model.SignatureHeader: sig})
	require.Equal(t, 200, status)
	assert.JSONEq(t, `{"success":true}`, string(body))
	require.Len(t, env.dispatcher.events, 1)
	assert.Equal(t, "run_1", env.dispatcher.events[0].Run.ID)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t, "s3cret", false)

	status, _, _ := env.do(t, "POST", "/api/v2/webhooks/trigger", completedEvent, map[string]string{model.SignatureHeader: "deadbeef"})
	assert.Equal(t, 401, status)

	// A single flipped bit in a hex letter changes its case.
	sig := []byte(webhook.Sign("s3cret", []byte(completedEvent)))
	idx := bytes.IndexAny(sig, "abcdef")
	require.GreaterOrEqual(t, idx, 0)
	sig[idx] ^= 0x20
	status, _, _ = env.do(t, "POST", "/api/v2/webhooks/trigger", completedEvent, map[string]string{model.SignatureHeader: string(sig)})
	assert.Equal(t, 401, status)

	assert.Empty(t, env.dispatcher.events)
}

func TestWebhook_Malformed(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, _, _ := env.do(t, "POST", "/api/v2/webhooks/trigger", `{"type":"run.completed"}`, nil)
	assert.Equal(t, 400, status)
}

func TestWebhook_MissingSecret(t *testing.T) {
	dev := newTestEnv(t, "", false)
	status, _, _ := dev.do(t, "POST", "/api/v2/webhooks/trigger", completedEvent, nil)
	assert.Equal(t, 200, status)

	prod := newTestEnv(t, "", true)
	status, _, _ = prod.do(t, "POST", "/api/v2/webhooks/trigger", completedEvent, nil)
	assert.Equal(t, 401, status)
}

func TestWebhook_HandlerErrorStillAcks(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.dispatcher.err = apperr.Internal(io.ErrUnexpectedEOF)

	status, _, _ := env.do(t, "POST", "/api/v2/webhooks/trigger", completedEvent, nil)
	assert.Equal(t, 200, status)
}

// --- chat ---

func TestChatCompletions(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.registry.wait = &model.WaitResult{
		OK:     true,
		RunID:  "run_1",
		Output: []byte(`{"success":true,"data":[{"id":"a1","title":"Sunrise","imageUrl":"https://img/a1.jpg","lyric":"la la","audioUrl":"https://cdn/a1.mp3","status":"SUCCESS"}]}`),
	}

	status, body, headers := env.do(t, "POST", "/v1/chat/completions",
		`{"model":"V4","messages":[{"role":"system","content":"be nice"},{"role":"user","content":"a sunrise song"}]}`, nil)
	require.Equal(t, 200, status, string(body))
	assert.Contains(t, headers.Get("Content-Type"), "text/markdown")
	assert.Contains(t, string(body), "## Sunrise")
	assert.Contains(t, string(body), "https://cdn/a1.mp3")

	p := env.registry.triggered[0].(model.GeneratePayload)
	assert.Equal(t, "a sunrise song", p.Prompt)
	assert.True(t, p.WaitAudio)
}

func TestChatCompletions_FailedRun(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.registry.wait = &model.WaitResult{OK: false, RunID: "run_1", Error: "no credits"}

	status, body, _ := env.do(t, "POST", "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}]}`, nil)
	assert.Equal(t, 500, status)
	assert.Contains(t, string(body), "no credits")
}

func TestChatCompletions_WaitIsBounded(t *testing.T) {
	env := newTestEnv(t, "", false)
	env.registry.block = true

	start := time.Now()
	status, body, _ := env.do(t, "POST", "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}]}`, nil)
	assert.Equal(t, 504, status, string(body))
	assert.Contains(t, string(body), "TIMEOUT")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChatCompletions_RequiresUserMessage(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, _, _ := env.do(t, "POST", "/v1/chat/completions", `{"messages":[{"role":"system","content":"x"}]}`, nil)
	assert.Equal(t, 400, status)
}

// --- health ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", false)

	status, body, _ := env.do(t, "GET", "/health", "", nil)
	require.Equal(t, 200, status)
	assert.JSONEq(t, `{"status":"ok","services":{"redis":true,"suno":true}}`, string(body))
}
