package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/jobs"
	"github.com/makeasinger/sunoproxy/internal/logger"
	"github.com/makeasinger/sunoproxy/internal/model"
)

// Register builds the three task definitions and adds them to rt.
func Register(rt *jobs.Runtime, music MusicFactory, cfg *config.JobsConfig) {
	rt.Register(
		NewGenerateWorker(music).Task(),
		NewBatchWorker(cfg.BatchChildWaitDuration()).Task(),
		NewProbeWorker(music).Task(),
	)
}

// Pool runs one asynq server per queue plus the probe scheduler.
type Pool struct {
	generation *asynq.Server
	general    *asynq.Server
	scheduler  *asynq.Scheduler
	mux        *asynq.ServeMux
}

// NewPool wires asynq servers for the tasks registered on rt.
func NewPool(redisOpt asynq.RedisClientOpt, cfg *config.Config, rt *jobs.Runtime) (*Pool, error) {
	level := asynqLevel(cfg.Server.LogLevel)
	asynqLog := logger.NewAsynqLogger(log.Logger)

	newServer := func(queue string, concurrency int) *asynq.Server {
		return asynq.NewServer(redisOpt, asynq.Config{
			Concurrency:    concurrency,
			Queues:         map[string]int{queue: 1},
			RetryDelayFunc: rt.RetryDelay,
			Logger:         asynqLog,
			LogLevel:       level,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				log.Warn().Err(err).Str("task", task.Type()).Str("run_id", id).Msg("task attempt failed")
			}),
		})
	}

	p := &Pool{
		generation: newServer(QueueGeneration, cfg.Jobs.GenerateConcurrency),
		general:    newServer(QueueDefault, cfg.Jobs.DefaultConcurrency),
		mux:        rt.Mux(),
	}

	if cfg.Jobs.ProbeCron != "" {
		p.scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger:   asynqLog,
			LogLevel: level,
			Location: time.UTC,
		})
		opts := []asynq.Option{
			asynq.Queue(QueueDefault),
			asynq.MaxRetry(ProbeRetry.MaxRetry()),
			// One pending probe at a time.
			asynq.Unique(time.Hour),
		}
		if _, err := p.scheduler.Register(cfg.Jobs.ProbeCron, asynq.NewTask(model.TaskCreditProbe, nil), opts...); err != nil {
			return nil, fmt.Errorf("register credit probe schedule %q: %w", cfg.Jobs.ProbeCron, err)
		}
	}
	return p, nil
}

// Start begins processing. It returns once every component is running.
func (p *Pool) Start() error {
	if err := p.generation.Start(p.mux); err != nil {
		return fmt.Errorf("start generation server: %w", err)
	}
	if err := p.general.Start(p.mux); err != nil {
		p.generation.Shutdown()
		return fmt.Errorf("start default server: %w", err)
	}
	if p.scheduler != nil {
		if err := p.scheduler.Start(); err != nil {
			p.generation.Shutdown()
			p.general.Shutdown()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	log.Info().Msg("worker pool started")
	return nil
}

// Shutdown stops the scheduler and waits for in-flight tasks.
func (p *Pool) Shutdown() {
	if p.scheduler != nil {
		p.scheduler.Shutdown()
	}
	p.generation.Shutdown()
	p.general.Shutdown()
	log.Info().Msg("worker pool stopped")
}

func asynqLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
