package jobs

import (
	"context"

	"github.com/makeasinger/sunoproxy/internal/model"
)

// Listener observes run lifecycle changes. Implementations must not block.
type Listener interface {
	OnStatus(ctx context.Context, job *model.Job)
	OnMetadata(ctx context.Context, job *model.Job, partial map[string]any)
}

type listeners []Listener

func (ls listeners) status(ctx context.Context, job *model.Job) {
	for _, l := range ls {
		l.OnStatus(ctx, job)
	}
}

func (ls listeners) metadata(ctx context.Context, job *model.Job, partial map[string]any) {
	for _, l := range ls {
		l.OnMetadata(ctx, job, partial)
	}
}
