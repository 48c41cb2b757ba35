package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/model"
)

func TestProbeWorker_ReportsCredits(t *testing.T) {
	gen := &fakeGenerator{credits: func() (*model.Credits, error) {
		return &model.Credits{CreditsLeft: 120}, nil
	}}
	w := NewProbeWorker(&fakeFactory{gen: gen})
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	out, err := w.Run(context.Background(), newRunContext(1, 1, nil, &metadataLog{}), struct{}{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.NotNil(t, out.CreditsLeft)
	assert.Equal(t, 120.0, *out.CreditsLeft)
	assert.Equal(t, fixed, out.Timestamp)
	// Probes always use the process-wide key.
	assert.Equal(t, []string{""}, gen.keys)
}

func TestProbeWorker_NeverFails(t *testing.T) {
	gen := &fakeGenerator{credits: func() (*model.Credits, error) {
		return nil, apperr.Upstream(401, "invalid api key")
	}}
	w := NewProbeWorker(&fakeFactory{gen: gen})

	out, err := w.Run(context.Background(), newRunContext(1, 1, nil, &metadataLog{}), struct{}{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Nil(t, out.CreditsLeft)
	assert.Equal(t, "invalid api key", out.Error)
}

func TestAsynqLevel(t *testing.T) {
	assert.Equal(t, asynq.DebugLevel, asynqLevel("DEBUG"))
	assert.Equal(t, asynq.ErrorLevel, asynqLevel("error"))
	assert.Equal(t, asynq.InfoLevel, asynqLevel(""))
}
