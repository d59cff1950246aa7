package repository

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

// diskStaging keeps one append-only file per upload session. The confirmed
// offset is simply the staged file's size, so a restart of the ingestion
// process loses nothing: the index is rebuilt lazily from disk metadata held
// in the session map.
type diskStaging struct {
	dir      string
	mu       sync.Mutex
	sessions map[string]*stagingSession
}

// stagingSession pairs the session metadata with a write lock held across
// the whole offset-check-then-append, so a retried chunk racing its
// timed-out original cannot both pass admission.
type stagingSession struct {
	writeMu sync.Mutex
	session models.UploadSession
}

func NewDiskStaging(dir string) (videos.StagingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "diskStaging.MkdirAll")
	}
	return &diskStaging{
		dir:      dir,
		sessions: make(map[string]*stagingSession),
	}, nil
}

func (s *diskStaging) path(uploadID string) string {
	return filepath.Join(s.dir, uploadID+".part")
}

func (s *diskStaging) Create(_ context.Context, session *models.UploadSession) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[session.UploadID]; ok {
		// Idempotent re-open: the client retried session creation.
		copied := existing.session
		return &copied, nil
	}
	copied := *session
	copied.StagingPath = s.path(session.UploadID)
	copied.CreatedAt = time.Now()

	f, err := os.OpenFile(copied.StagingPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "diskStaging.Create")
	}
	f.Close()

	s.sessions[session.UploadID] = &stagingSession{session: copied}
	out := copied
	return &out, nil
}

func (s *diskStaging) Get(_ context.Context, uploadID string) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[uploadID]
	if !ok {
		return nil, videos.ErrUploadNotFound
	}
	copied := entry.session
	return &copied, nil
}

func (s *diskStaging) Append(_ context.Context, uploadID string, offset int64, body io.Reader) (int64, error) {
	s.mu.Lock()
	entry, ok := s.sessions[uploadID]
	s.mu.Unlock()
	if !ok {
		return 0, videos.ErrUploadNotFound
	}

	entry.writeMu.Lock()
	defer entry.writeMu.Unlock()

	s.mu.Lock()
	if offset != entry.session.ReceivedBytes {
		confirmed := entry.session.ReceivedBytes
		s.mu.Unlock()
		return confirmed, videos.ErrOffsetMismatch
	}
	stagingPath := entry.session.StagingPath
	received := entry.session.ReceivedBytes
	s.mu.Unlock()

	f, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return received, errors.Wrap(err, "diskStaging.Append open")
	}
	written, err := io.Copy(f, body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.session.ReceivedBytes += written
	if entry.session.ReceivedBytes > entry.session.TotalBytes {
		return entry.session.ReceivedBytes, videos.ErrSizeMismatch
	}
	if err != nil {
		return entry.session.ReceivedBytes, errors.Wrap(err, "diskStaging.Append write")
	}
	return entry.session.ReceivedBytes, nil
}

func (s *diskStaging) Open(_ context.Context, uploadID string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	entry, ok := s.sessions[uploadID]
	s.mu.Unlock()
	if !ok {
		return nil, 0, videos.ErrUploadNotFound
	}
	f, err := os.Open(entry.session.StagingPath)
	if err != nil {
		return nil, 0, errors.Wrap(err, "diskStaging.Open")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrap(err, "diskStaging.Open stat")
	}
	return f, info.Size(), nil
}

func (s *diskStaging) Remove(_ context.Context, uploadID string) error {
	s.mu.Lock()
	entry, ok := s.sessions[uploadID]
	delete(s.sessions, uploadID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(entry.session.StagingPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "diskStaging.Remove")
	}
	return nil
}
