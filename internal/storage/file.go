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

	logx "tinysched/pkg/logx"
)

// fileStore keeps the journal in <prefix>.runs.jsonl (append-only JSON Lines)
// and the newest records in memory. Once the file holds twice the retention
// limit it is rewritten with only the retained records.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu     sync.Mutex
	f      *os.File
	lines  int
	recent []RunRecord // oldest first, at most retain
}

func journalPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base) + ".runs.jsonl"
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: journalPath(path), retain: cfg.retain()}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	if err := s.terminateTornLine(); err != nil {
		_ = f.Close()
		return nil, err
	}

	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			log.Warn("run journal compact failed", logx.Err(err))
		}
	}
	return s, nil
}

// replay loads the tail of an existing journal. Corrupt lines (e.g. from a
// crash mid-write) are skipped.
func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		s.lines++
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Task == "" {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}

// terminateTornLine ends a partial last line so the next append starts clean.
func (s *fileStore) terminateTornLine() error {
	b, err := os.ReadFile(s.path)
	if err != nil || len(b) == 0 || b[len(b)-1] == '\n' {
		return err
	}
	_, err = s.f.WriteString("\n")
	return err
}

func (s *fileStore) remember(r RunRecord) {
	s.recent = append(s.recent, r)
	if over := len(s.recent) - s.retain; over > 0 {
		copy(s.recent, s.recent[over:])
		for i := len(s.recent) - over; i < len(s.recent); i++ {
			s.recent[i] = RunRecord{}
		}
		s.recent = s.recent[:len(s.recent)-over]
	}
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.remember(r)

	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]RunRecord, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out, nil
}

// compactLocked rewrites the journal with the retained records and reopens it.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range s.recent {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if s.f != nil {
		_ = s.f.Close()
	}
	s.f = nf
	s.lines = len(s.recent)
	s.log.Debug("run journal compacted", logx.Int("records", s.lines))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
