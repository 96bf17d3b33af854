package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
)

// Store implements an in-memory instance storage. All operations are
// thread-safe and hand out copies so callers never share state with the
// store.
type Store struct {
	instances map[string]*model.Instance
	mux       sync.RWMutex
}

// Compile-time check that Store implements instance.Store.
var _ instance.Store = (*Store)(nil)

// New constructor.
func New() *Store {
	return &Store{instances: map[string]*model.Instance{}}
}

func (s *Store) Load(_ context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	anInstance, ok := s.instances[id]
	s.mux.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return anInstance.Clone(), nil
}

func (s *Store) Save(_ context.Context, anInstance *model.Instance) error {
	if anInstance == nil {
		return dao.ErrNilEntity
	}
	if anInstance.ID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	current, ok := s.instances[anInstance.ID]
	switch {
	case !ok && anInstance.Version != 0:
		return dao.ErrNotFound
	case ok && current.Version != anInstance.Version:
		return dao.ErrConflict
	case ok:
		// deadline and creation time are immutable once stored
		anInstance.Deadline = current.Deadline
		anInstance.CreatedAt = current.CreatedAt
	}
	anInstance.Version++
	s.instances[anInstance.ID] = anInstance.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.instances[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.instances, id)
	return nil
}

func (s *Store) List(_ context.Context, filter *instance.Filter) ([]*model.Instance, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []*model.Instance
	for _, anInstance := range s.instances {
		if filter.Match(anInstance) {
			out = append(out, anInstance.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateOne(_ context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	return s.update(filter, update, 1), nil
}

func (s *Store) UpdateMany(_ context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	return s.update(filter, update, -1), nil
}

func (s *Store) update(filter *instance.Filter, update *instance.Update, limit int) int {
	s.mux.Lock()
	defer s.mux.Unlock()
	count := 0
	for _, anInstance := range s.instances {
		if limit >= 0 && count >= limit {
			break
		}
		if !filter.Match(anInstance) {
			continue
		}
		update.Apply(anInstance)
		count++
	}
	return count
}
