package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/fp"
)

// InMemoryDownloadRepo is the default record store. Records do not
// survive a restart of the host; the engine's own session file is the
// only durable download state in that configuration.
type InMemoryDownloadRepo struct {
	mu        sync.RWMutex
	downloads data.Downloads
	byPrint   map[string]*data.Download
}

func NewInMemoryDownloadRepo() *InMemoryDownloadRepo {
	return &InMemoryDownloadRepo{
		downloads: make(data.Downloads, 0),
		byPrint:   make(map[string]*data.Download),
	}
}

var _ DownloadRepo = (*InMemoryDownloadRepo)(nil)

func (r *InMemoryDownloadRepo) List(ctx context.Context) (data.Downloads, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloads.Clone(), nil
}

func (r *InMemoryDownloadRepo) Get(ctx context.Context, id string) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) FindByTaskID(ctx context.Context, taskID data.TaskID) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dl := range r.downloads {
		if dl.TaskID == taskID && taskID != "" {
			return dl.Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemoryDownloadRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fprint := fp.Fingerprint(d.Source, d.TargetPath)
	if existing, ok := r.byPrint[fprint]; ok {
		return existing.Clone(), nil
	}
	d.ID = uuid.NewString()
	r.downloads = append(r.downloads, d)
	r.byPrint[fprint] = d
	return d.Clone(), nil
}

func (r *InMemoryDownloadRepo) Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(dl); err != nil {
			return nil, err
		}
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) SetStatus(ctx context.Context, id string, status data.DownloadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, err := r.findByID(id)
	if err != nil {
		return err
	}
	dl.Status = status
	return nil
}

func (r *InMemoryDownloadRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, dl := range r.downloads {
		if dl.ID == id {
			delete(r.byPrint, fp.Fingerprint(dl.Source, dl.TargetPath))
			r.downloads = append(r.downloads[:i], r.downloads[i+1:]...)
			return nil
		}
	}
	return data.ErrNotFound
}

func (r *InMemoryDownloadRepo) findByID(id string) (*data.Download, error) {
	for _, dl := range r.downloads {
		if dl.ID == id {
			return dl, nil
		}
	}
	return nil, data.ErrNotFound
}
