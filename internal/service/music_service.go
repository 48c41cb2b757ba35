package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/client"
	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// MusicGenerator is the provider adapter contract used by handlers and tasks.
type MusicGenerator interface {
	Generate(ctx context.Context, prompt string, instrumental bool, modelName string, waitAudio bool) ([]model.Audio, error)
	CustomGenerate(ctx context.Context, p CustomParams) ([]model.Audio, error)
	Get(ctx context.Context, taskIDs []string, page string) ([]model.Audio, error)
	GetClip(ctx context.Context, id string) (*model.Audio, error)
	GetCredits(ctx context.Context) (*model.Credits, error)
	GenerateLyrics(ctx context.Context, prompt string) (*model.Lyrics, error)
	GenerateStems(ctx context.Context, taskID, audioID string) ([]model.Audio, error)
	GetTimestampedLyrics(ctx context.Context, taskID, audioID string) (map[string]any, error)
	ExtendAudio(ctx context.Context, req *model.ExtendAudioRequest) ([]model.Audio, error)
	Concatenate(ctx context.Context, clipID string) (*model.Audio, error)
	GetPersonaPaginated(ctx context.Context, personaID string, page int) (map[string]any, error)
}

// CustomParams carries the fields of a custom-mode generation.
type CustomParams struct {
	Prompt       string
	Tags         string
	Title        string
	Instrumental bool
	Model        string
	WaitAudio    bool
	NegativeTags string
}

// MusicFactory builds a MusicGenerator per bearer key. Nothing is cached per
// key, so concurrent callers with different keys never share a client.
type MusicFactory struct {
	cfg        config.SunoConfig
	defaultKey string
	httpClient *http.Client
	opts       []client.Option
}

// NewMusicFactory creates a factory whose fallback key is cfg.APIKey.
func NewMusicFactory(cfg *config.SunoConfig, opts ...client.Option) *MusicFactory {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MusicFactory{
		cfg:        *cfg,
		defaultKey: cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		opts:       opts,
	}
}

// For returns an adapter bound to apiKey, or to the process default when
// apiKey is empty.
func (f *MusicFactory) For(apiKey string) MusicGenerator {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = f.defaultKey
	}
	opts := append([]client.Option{client.WithHTTPClient(f.httpClient)}, f.opts...)
	return NewMusicService(client.NewSunoClient(&f.cfg, key, opts...))
}

// HasDefaultKey reports whether a process-wide key is configured.
func (f *MusicFactory) HasDefaultKey() bool {
	return f.defaultKey != ""
}

// MusicService composes the model mapper, the Suno client and its poller.
type MusicService struct {
	provider client.MusicProvider
	now      func() time.Time
}

// NewMusicService creates an adapter over provider
func NewMusicService(provider client.MusicProvider) *MusicService {
	return &MusicService{
		provider: provider,
		now:      time.Now,
	}
}

// Generate submits a description-mode task. With waitAudio it polls until
// every track is playable; otherwise it returns a single in-progress stub.
func (s *MusicService) Generate(ctx context.Context, prompt string, instrumental bool, modelName string, waitAudio bool) ([]model.Audio, error) {
	return s.submit(ctx, &client.GenerateInput{
		Prompt:       prompt,
		CustomMode:   false,
		Instrumental: instrumental,
		Model:        client.NormalizeModel(modelName),
	}, waitAudio)
}

// CustomGenerate submits a custom-mode task. Tags become the upstream style
// and the prompt is sent as lyrics only for vocal tracks.
func (s *MusicService) CustomGenerate(ctx context.Context, p CustomParams) ([]model.Audio, error) {
	in := &client.GenerateInput{
		CustomMode:   true,
		Instrumental: p.Instrumental,
		Model:        client.NormalizeModel(p.Model),
		Style:        p.Tags,
		Title:        p.Title,
		NegativeTags: p.NegativeTags,
	}
	if !p.Instrumental {
		in.Prompt = p.Prompt
	}
	return s.submit(ctx, in, p.WaitAudio)
}

func (s *MusicService) submit(ctx context.Context, in *client.GenerateInput, waitAudio bool) ([]model.Audio, error) {
	taskID, err := s.provider.SubmitGenerate(ctx, in)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("task_id", taskID).
		Str("model", in.Model).
		Bool("custom", in.CustomMode).
		Bool("wait", waitAudio).
		Msg("generation submitted")

	if !waitAudio {
		return []model.Audio{s.stub(taskID, model.TaskStatusGenerating, in.Model)}, nil
	}

	tracks, err := s.provider.PollTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return completed(tracks, in.Model), nil
}

// Get reports every task in taskIDs. Finished tasks contribute their tracks;
// anything else contributes a stub carrying the current status.
func (s *MusicService) Get(ctx context.Context, taskIDs []string, page string) ([]model.Audio, error) {
	ids := compact(taskIDs)
	if len(ids) == 0 {
		return nil, apperr.Unsupported("listing all tasks without ids")
	}
	if page != "" {
		log.Debug().Str("page", page).Msg("pagination is ignored when ids are given")
	}

	out := make([]model.Audio, 0, len(ids))
	for _, id := range ids {
		info, err := s.provider.GetTaskInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s.fromTaskInfo(id, info)...)
	}
	return out, nil
}

// GetClip returns the first track of a task, or its stub.
func (s *MusicService) GetClip(ctx context.Context, id string) (*model.Audio, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("Clip ID is required")
	}
	list, err := s.Get(ctx, []string{id}, "")
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("clip not found")
	}
	return &list[0], nil
}

func (s *MusicService) fromTaskInfo(taskID string, info *client.TaskInfo) []model.Audio {
	tracks := info.Response.Tracks()
	if info.Status == model.TaskStatusSuccess && len(tracks) > 0 && allPlayable(tracks) {
		return completed(tracks, "")
	}
	stub := s.stub(taskID, info.Status, "")
	if stub.Status == "" {
		stub.Status = model.TaskStatusPending
	}
	if model.IsTaskFailure(info.Status) {
		stub.ErrorMessage = info.ErrorMessage
	}
	return []model.Audio{stub}
}

// GetCredits returns the remaining balance
func (s *MusicService) GetCredits(ctx context.Context) (*model.Credits, error) {
	credits, err := s.provider.GetCredits(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Credits{CreditsLeft: credits}, nil
}

// GenerateLyrics submits a lyrics task and waits for its first candidate
func (s *MusicService) GenerateLyrics(ctx context.Context, prompt string) (*model.Lyrics, error) {
	taskID, err := s.provider.SubmitLyrics(ctx, prompt)
	if err != nil {
		return nil, err
	}
	records, err := s.provider.PollLyrics(ctx, taskID)
	if err != nil {
		return nil, err
	}
	first := records[0]
	return &model.Lyrics{
		Text:   first.Text,
		Title:  first.Title,
		Status: model.TaskStatusSuccess,
	}, nil
}

// GenerateStems starts vocal separation and returns a stub for the new task.
// When taskID is empty the audio id is used to address the source task.
func (s *MusicService) GenerateStems(ctx context.Context, taskID, audioID string) ([]model.Audio, error) {
	if strings.TrimSpace(audioID) == "" {
		return nil, apperr.Validation("Audio ID is required")
	}
	if taskID == "" {
		taskID = audioID
	}
	stemTask, err := s.provider.SubmitStems(ctx, taskID, audioID)
	if err != nil {
		return nil, err
	}
	return []model.Audio{s.stub(stemTask, model.TaskStatusGenerating, "")}, nil
}

// GetTimestampedLyrics returns the upstream alignment object unchanged
func (s *MusicService) GetTimestampedLyrics(ctx context.Context, taskID, audioID string) (map[string]any, error) {
	if strings.TrimSpace(audioID) == "" {
		return nil, apperr.Validation("Song ID is required")
	}
	if taskID == "" {
		taskID = audioID
	}
	return s.provider.GetTimestampedLyrics(ctx, taskID, audioID)
}

// ExtendAudio has no mapped upstream path.
func (s *MusicService) ExtendAudio(ctx context.Context, req *model.ExtendAudioRequest) ([]model.Audio, error) {
	return nil, apperr.Unsupported("extend audio")
}

// Concatenate has no mapped upstream path.
func (s *MusicService) Concatenate(ctx context.Context, clipID string) (*model.Audio, error) {
	return nil, apperr.Unsupported("concatenate")
}

// GetPersonaPaginated has no mapped upstream path.
func (s *MusicService) GetPersonaPaginated(ctx context.Context, personaID string, page int) (map[string]any, error) {
	return nil, apperr.Unsupported("persona")
}

func (s *MusicService) stub(taskID, status, modelName string) model.Audio {
	return model.Audio{
		ID:        taskID,
		Status:    status,
		CreatedAt: s.now().UTC(),
		ModelName: modelName,
	}
}

// completed normalizes finished tracks. Every returned element carries the
// SUCCESS status and a media URL.
func completed(tracks []client.ProviderAudio, fallbackModel string) []model.Audio {
	out := make([]model.Audio, 0, len(tracks))
	for _, t := range tracks {
		a := t.Normalize(model.TaskStatusSuccess)
		a.Status = model.TaskStatusSuccess
		if a.ModelName == "" {
			a.ModelName = fallbackModel
		}
		out = append(out, a)
	}
	return out
}

func allPlayable(tracks []client.ProviderAudio) bool {
	for _, t := range tracks {
		if t.MediaURL() == "" {
			return false
		}
	}
	return true
}

func compact(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
