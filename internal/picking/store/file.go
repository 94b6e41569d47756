package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/natefinch/atomic"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FileStore keeps a session in one JSON document written with an atomic rename,
// so a crash leaves either the old or the new batch on disk.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(dir, sessionID string) *FileStore {
	name := unsafeFileChars.ReplaceAllString(sessionID, "_")
	return &FileStore{path: filepath.Join(dir, "session-"+name+".json")}
}

// FileFactory stores every session as a file under dir
func FileFactory(dir string) (Factory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return func(sessionID string) (Store, error) {
		return NewFileStore(dir, sessionID), nil
	}, nil
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) Load() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(doc))
	for k, v := range doc {
		out[k] = []byte(v)
	}
	return out, nil
}

func (s *FileStore) Save(entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	for k, v := range entries {
		if !json.Valid(v) {
			return fmt.Errorf("entry %s is not valid JSON", k)
		}
		doc[k] = json.RawMessage(v)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
