package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "ferry/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.jobs.json     (full snapshot, atomic rename on save)
//   - <prefix>.profiles.json (full snapshot, atomic rename on save)
//   - <prefix>.runs.jsonl    (append-only JSON Lines run log)
//
// Job/profile sets are small (registry capacity is fixed), so rewriting the
// whole snapshot per mutation is fine and keeps recovery trivial.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	jobsPath     string
	profilesPath string

	runsFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		jobsPath:     prefix + ".jobs.json",
		profilesPath: prefix + ".profiles.json",
		runsFile:     rf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile != nil {
		err := s.runsFile.Close()
		s.runsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) SaveJobs(ctx context.Context, jobs []JobRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSnapshot(s.jobsPath, jobs)
}

func (s *fileStore) LoadJobs(ctx context.Context) ([]JobRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobRecord
	if err := readSnapshot(s.jobsPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) SaveProfiles(ctx context.Context, profiles []ProfileRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSnapshot(s.profilesPath, profiles)
}

func (s *fileStore) LoadProfiles(ctx context.Context) ([]ProfileRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProfileRecord
	if err := readSnapshot(s.profilesPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run log closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

// writeSnapshot writes v to path via tmp file + rename so readers never see a
// torn snapshot.
func writeSnapshot(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readSnapshot decodes path into out. A missing file is an empty snapshot.
func readSnapshot(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}
