package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/client"
	"github.com/makeasinger/sunoproxy/internal/model"
)

const maxArchiveBytes = 64 << 20

// Archiver mirrors finished tracks into object storage.
type Archiver interface {
	Archive(ctx context.Context, tracks []model.Audio) ([]string, error)
}

// ArchiveService copies audio files to R2 under audio/{id}.mp3. Keys are
// derived from the track id, so mirroring the same track twice is a no-op.
type ArchiveService struct {
	store      client.ObjectStore
	httpClient *http.Client
	maxBytes   int64
}

// NewArchiveService creates an archiver backed by store
func NewArchiveService(store client.ObjectStore) *ArchiveService {
	return &ArchiveService{
		store:    store,
		maxBytes: maxArchiveBytes,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// ArchiveKey is the object key for a track.
func ArchiveKey(audioID string) string {
	return fmt.Sprintf("audio/%s.mp3", audioID)
}

// Archive uploads every playable track that is not stored yet and returns
// the public URLs of all mirrored tracks.
func (s *ArchiveService) Archive(ctx context.Context, tracks []model.Audio) ([]string, error) {
	var urls []string
	for _, t := range tracks {
		if t.ID == "" || t.AudioURL == "" {
			continue
		}
		key := ArchiveKey(t.ID)

		exists, err := s.store.Exists(ctx, key)
		if err != nil {
			return urls, err
		}
		if exists {
			urls = append(urls, s.store.PublicURL(key))
			continue
		}

		url, err := s.copy(ctx, t.AudioURL, key)
		if err != nil {
			return urls, fmt.Errorf("archive %s: %w", t.ID, err)
		}
		log.Info().Str("audio_id", t.ID).Str("url", url).Msg("track archived")
		urls = append(urls, url)
	}
	return urls, nil
}

func (s *ArchiveService) copy(ctx context.Context, src, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	if resp.ContentLength > s.maxBytes {
		return "", fmt.Errorf("download is %d bytes, limit is %d", resp.ContentLength, s.maxBytes)
	}
	// The S3 signer needs a seekable body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("download exceeds %d bytes", s.maxBytes)
	}
	return s.store.Upload(ctx, key, bytes.NewReader(data), contentType)
}
