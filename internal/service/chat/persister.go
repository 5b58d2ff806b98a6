package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/coinchat/backend/internal/model/chat"
)

// FilePersister writes each finalized conversation to <dir>/<sessionID>.json,
// replacing the previous version atomically.
type FilePersister struct {
	dir string
}

// NewFilePersister creates the target directory if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

type transcript struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

// Persist implements Persister.
func (p *FilePersister) Persist(_ context.Context, session chat.Session, messages []chat.Message) error {
	data, err := json.MarshalIndent(transcript{Session: session, Messages: messages}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	path := filepath.Join(p.dir, filepath.Base(session.ID)+".json")
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write transcript %s: %w", path, err)
	}
	return nil
}
