package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
)

// Store keeps one JSON document per instance under baseURL. Conditional
// updates are serialised by a process-wide mutex, so the store is only safe
// for a single replica; use the postgres store when several replicas share
// state.
type Store struct {
	baseURL string
	fs      afs.Service
	mu      sync.Mutex
}

var _ instance.Store = (*Store)(nil)

// New creates a filesystem backed store, creating baseURL if needed.
func New(ctx context.Context, baseURL string) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	fs := afs.New()
	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Store{
		baseURL: url.Normalize(baseURL, file.Scheme),
		fs:      fs,
	}, nil
}

func (s *Store) Load(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, id)
}

func (s *Store) Save(ctx context.Context, anInstance *model.Instance) error {
	if anInstance == nil {
		return dao.ErrNilEntity
	}
	if anInstance.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load(ctx, anInstance.ID)
	switch {
	case errors.Is(err, dao.ErrNotFound):
		if anInstance.Version != 0 {
			return dao.ErrNotFound
		}
	case err != nil:
		return err
	case current.Version != anInstance.Version:
		return dao.ErrConflict
	default:
		// deadline and creation time are immutable once stored
		anInstance.Deadline = current.Deadline
		anInstance.CreatedAt = current.CreatedAt
	}
	anInstance.Version++
	if err = s.store(ctx, anInstance); err != nil {
		anInstance.Version--
		return err
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	URL := s.instanceURL(id)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to check if instance exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err = s.fs.Delete(ctx, URL); err != nil {
		return fmt.Errorf("failed to delete instance file: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter *instance.Filter) ([]*model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx, filter)
}

func (s *Store) UpdateOne(ctx context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	return s.update(ctx, filter, update, 1)
}

func (s *Store) UpdateMany(ctx context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	return s.update(ctx, filter, update, -1)
}

func (s *Store) update(ctx context.Context, filter *instance.Filter, update *instance.Update, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*model.Instance
	if filter != nil && filter.ID != "" {
		anInstance, err := s.load(ctx, filter.ID)
		if errors.Is(err, dao.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if filter.Match(anInstance) {
			candidates = append(candidates, anInstance)
		}
	} else {
		var err error
		if candidates, err = s.list(ctx, filter); err != nil {
			return 0, err
		}
	}
	count := 0
	for _, anInstance := range candidates {
		if limit >= 0 && count >= limit {
			break
		}
		update.Apply(anInstance)
		if err := s.store(ctx, anInstance); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) load(ctx context.Context, id string) (*model.Instance, error) {
	URL := s.instanceURL(id)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check if instance exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance file: %w", err)
	}
	anInstance := &model.Instance{}
	if err = json.Unmarshal(data, anInstance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}
	return anInstance, nil
}

func (s *Store) store(ctx context.Context, anInstance *model.Instance) error {
	data, err := json.Marshal(anInstance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	URL := s.instanceURL(anInstance.ID)
	if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save instance to file %s: %w", URL, err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, filter *instance.Filter) ([]*model.Instance, error) {
	objects, err := s.fs.List(ctx, s.baseURL, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}
	var ret []*model.Instance
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("failed to read instance file %s: %w", object.URL(), err)
		}
		anInstance := &model.Instance{}
		if err = json.Unmarshal(data, anInstance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance from %s: %w", object.URL(), err)
		}
		if filter.Match(anInstance) {
			ret = append(ret, anInstance)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.Before(ret[j].CreatedAt) })
	return ret, nil
}

func (s *Store) instanceURL(id string) string {
	return url.Join(s.baseURL, id+".json")
}
