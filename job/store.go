package job

import (
	"context"
	"sort"
	"sync"
)

// Store persists job records. Update is version checked: the caller passes the
// record it read, and the write fails with ErrConflict if someone else wrote
// in between. On success j.Version is advanced to the stored version.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, j *Job) error
	ListByOwner(ctx context.Context, ownerID string, status Status) ([]*Job, error)
	// Delete removes a record. A missing record is ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps records in process memory. Records handed out are copies.
type MemoryStore struct {
	mu   sync.Mutex // serializes writes for the version check
	jobs sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(ctx context.Context, j *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs.Load(j.ID); exists {
		return ErrConflict
	}
	j.Version = 1
	s.jobs.Store(j.ID, j.Clone())
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok := s.jobs.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return val.(*Job).Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, j *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.jobs.Load(j.ID)
	if !ok {
		return ErrNotFound
	}
	if val.(*Job).Version != j.Version {
		return ErrConflict
	}
	j.Version++
	s.jobs.Store(j.ID, j.Clone())
	return nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, status Status) ([]*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Job
	s.jobs.Range(func(key, value interface{}) bool {
		j := value.(*Job)
		if j.OwnerID == ownerID && (status == "" || j.Status == status) {
			out = append(out, j.Clone())
		}
		return true
	})
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs.LoadAndDelete(id); !ok {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
