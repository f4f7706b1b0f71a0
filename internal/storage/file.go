package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "mailcast/pkg/logx"
)

// fileStore is a dependency-free persistence backend: one append-only JSON
// Lines file of completed-broadcast records. Reads scan the file; the log is
// small (one line per broadcast) so that stays cheap.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	file *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if ext := filepath.Ext(path); ext == "" {
		path += ".jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, file: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendBroadcast(ctx context.Context, rec BroadcastRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("broadcast log closed")
	}
	return json.NewEncoder(s.file).Encode(rec)
}

func (s *fileStore) RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	_ = ctx
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []BroadcastRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec BroadcastRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// Tolerate a torn trailing line from a crashed process.
			s.log.Debug("skipping malformed broadcast record", logx.Err(err))
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	// Newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}
