// Package profile owns named source/destination/options bundles that
// scheduled jobs reference by id. Profiles live and die independently of the
// jobs pointing at them; a dangling reference is resolved (and reported) at
// execution time, never here.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ferry/internal/storage"
	"ferry/internal/transfer"
	logx "ferry/pkg/logx"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrInvalid  = errors.New("invalid profile")
)

// Profile is a named bundle of source path, destination path, and transfer
// options.
type Profile struct {
	ID         string
	Name       string
	SourcePath string
	DestPath   string
	Options    transfer.Options
	CreatedAt  time.Time
	LastUsed   *time.Time
}

type Registry struct {
	log   logx.Logger
	store storage.Store // nil = in-memory only
	now   func() time.Time

	mu       sync.Mutex
	profiles map[string]*Profile
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:      log,
		store:    store,
		now:      time.Now,
		profiles: map[string]*Profile{},
	}
}

func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.LoadProfiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	r.mu.Lock()
	r.profiles = make(map[string]*Profile, len(recs))
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		p := fromRecord(rec)
		r.profiles[p.ID] = &p
	}
	n := len(r.profiles)
	r.mu.Unlock()

	r.log.Info("profiles loaded", logx.Int("count", n))
	return nil
}

func (r *Registry) Add(ctx context.Context, name, sourcePath, destPath string, opts transfer.Options) (Profile, error) {
	if name == "" || sourcePath == "" || destPath == "" {
		return Profile{}, fmt.Errorf("%w: name, source and destination are required", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Profile{
		ID:         uuid.NewString(),
		Name:       name,
		SourcePath: sourcePath,
		DestPath:   destPath,
		Options:    opts,
		CreatedAt:  r.now(),
	}
	r.profiles[p.ID] = p
	r.persistLocked(ctx)
	r.log.Info("profile added", logx.String("profile", p.ID), logx.String("name", name))
	return *p, nil
}

func (r *Registry) Update(ctx context.Context, p Profile) error {
	if p.Name == "" || p.SourcePath == "" || p.DestPath == "" {
		return fmt.Errorf("%w: name, source and destination are required", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.profiles[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = cur.CreatedAt
	p.LastUsed = cur.LastUsed
	*cur = p
	r.persistLocked(ctx)
	return nil
}

// Delete removes the profile. Jobs referencing it are left alone; they
// degrade to a "profile missing" outcome when they next run.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(r.profiles, id)
	r.persistLocked(ctx)
	r.log.Info("profile deleted", logx.String("profile", id))
	return nil
}

func (r *Registry) Get(id string) (Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// MarkUsed stamps LastUsed. Unknown ids are ignored: the caller may hold a
// snapshot of a profile deleted moments ago.
func (r *Registry) MarkUsed(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return
	}
	now := r.now()
	p.LastUsed = &now
	r.persistLocked(ctx)
}

func (r *Registry) List() []Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (r *Registry) persistLocked(ctx context.Context) {
	if r.store == nil {
		return
	}
	recs := make([]storage.ProfileRecord, 0, len(r.profiles))
	for _, p := range r.profiles {
		recs = append(recs, toRecord(*p))
	}
	sort.Slice(recs, func(a, b int) bool { return recs[a].ID < recs[b].ID })
	if err := r.store.SaveProfiles(ctx, recs); err != nil {
		r.log.Warn("profile snapshot save failed", logx.Err(err))
	}
}

func toRecord(p Profile) storage.ProfileRecord {
	return storage.ProfileRecord{
		ID:         p.ID,
		Name:       p.Name,
		SourcePath: p.SourcePath,
		DestPath:   p.DestPath,
		Options:    p.Options,
		CreatedAt:  p.CreatedAt,
		LastUsed:   p.LastUsed,
	}
}

func fromRecord(rec storage.ProfileRecord) Profile {
	return Profile{
		ID:         rec.ID,
		Name:       rec.Name,
		SourcePath: rec.SourcePath,
		DestPath:   rec.DestPath,
		Options:    rec.Options,
		CreatedAt:  rec.CreatedAt,
		LastUsed:   rec.LastUsed,
	}
}
