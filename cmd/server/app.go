package main

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/client"
	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/handler"
	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/logger"
	"github.com/makeasinger/sunoproxy/internal/service"
	"github.com/makeasinger/sunoproxy/internal/webhook"
	ws "github.com/makeasinger/sunoproxy/internal/websocket"
	"github.com/makeasinger/sunoproxy/internal/worker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const dedupeTTL = 24 * time.Hour

// components holds the collaborators shared by serve and worker.
type components struct {
	cfg         *config.Config
	redisOpt    asynq.RedisClientOpt
	rdb         *redis.Client
	redisOK     bool
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	runtime     *jobs.Runtime
	music       *service.MusicFactory
	hub         *ws.Hub
	relay       *ws.Relay
	notifier    *webhook.Notifier
	groq        *client.GroqClient
	archiver    service.Archiver
}

// newComponents wires the shared collaborators. serving is true for a
// process that hosts /ws subscribers; only such a process feeds its hub.
func newComponents(ctx context.Context, cfg *config.Config, serving bool) *components {
	c := &components{
		cfg: cfg,
		redisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
		music: service.NewMusicFactory(&cfg.Suno),
		hub:   ws.NewHub(),
		groq:  client.NewGroqClient(&cfg.Groq),
	}

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
	} else {
		c.redisOK = true
	}
	if !c.music.HasDefaultKey() {
		log.Warn().Msg("SUNO_API_KEY not set, callers must send a bearer key")
	}

	c.asynqClient = asynq.NewClient(c.redisOpt)
	c.inspector = asynq.NewInspector(c.redisOpt)

	var listeners []jobs.Listener
	switch {
	case c.redisOK:
		// Events travel through Redis so a separate worker reaches serve's hub.
		c.relay = ws.NewRelay(c.rdb)
		listeners = append(listeners, c.relay)
	case serving:
		listeners = append(listeners, c.hub)
	}
	if cfg.Webhook.URL != "" {
		c.notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)
		listeners = append(listeners, c.notifier)
	}
	c.runtime = jobs.NewRuntime(c.asynqClient, c.inspector, jobs.NewRedisStore(c.rdb, cfg.Jobs.RetentionDuration()), jobs.Options{
		Retention:   cfg.Jobs.RetentionDuration(),
		SyncTimeout: cfg.Jobs.SyncWaitDuration(),
		Listeners:   listeners,
	})
	worker.Register(c.runtime, c.music, &cfg.Jobs)

	if cfg.R2.IsConfigured() {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			c.archiver = service.NewArchiveService(r2)
		}
	} else {
		log.Info().Msg("R2 storage not configured, archiving disabled")
	}
	return c
}

func (c *components) deduper() webhook.Deduper {
	if c.redisOK {
		return webhook.NewRedisDeduper(c.rdb, dedupeTTL)
	}
	return webhook.NewMemoryDeduper(dedupeTTL)
}

func (c *components) httpApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(logger.RequestLogger(log.Logger))

	validate := validator.New()
	handler.Register(app, handler.Handlers{
		Health: handler.NewHealthHandler(map[string]bool{
			"suno": c.music.HasDefaultKey(),
			"groq": c.groq.IsConfigured(),
			"r2":   c.archiver != nil,
		}, func(ctx context.Context) error {
			return c.rdb.Ping(ctx).Err()
		}),
		Music: handler.NewMusicHandler(c.music, validate),
		Jobs:  handler.NewJobsHandler(c.runtime, validate),
		Webhook: handler.NewWebhookHandler(c.cfg.Webhook.Secret, c.cfg.Server.IsProduction(),
			webhook.NewDispatcher(webhook.NewRunEffects(c.hub, c.archiver), c.deduper())),
		Chat: handler.NewChatHandler(c.runtime, service.NewPromptEnhancer(c.groq), validate, c.cfg.Jobs.SyncWaitDuration()),
		Hub:  c.hub,
	})
	return app
}

func (c *components) Close() {
	if c.notifier != nil {
		c.notifier.Close()
	}
	if err := c.inspector.Close(); err != nil {
		log.Warn().Err(err).Msg("close asynq inspector")
	}
	if err := c.asynqClient.Close(); err != nil {
		log.Warn().Err(err).Msg("close asynq client")
	}
	if err := c.rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	} else {
		log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  "SERVICE_ERROR",
	})
}
