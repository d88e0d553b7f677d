package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"traceSync/internal/model"
)

// JsonlStorage writes persisted events to a JSONL audit file. The file is
// opened on the first non-empty page and truncated then, unless Append is set.
type JsonlStorage struct {
	path   string
	Append bool

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) open() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	s.file = file
	s.writer = bufio.NewWriter(file)
	s.enc = json.NewEncoder(s.writer)
	return nil
}

// PutEventBatch writes one page of events and flushes it, so an interrupted
// export leaves only whole lines behind.
func (s *JsonlStorage) PutEventBatch(events []model.PersistedEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	for _, event := range events {
		if err := s.enc.Encode(event); err != nil {
			return fmt.Errorf("write event %d: %w", event.ID, err)
		}
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// Close releases the output file. It is a no-op when nothing was written.
func (s *JsonlStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file, s.writer, s.enc = nil, nil, nil
	if flushErr != nil {
		return fmt.Errorf("flush output: %w", flushErr)
	}
	return closeErr
}
