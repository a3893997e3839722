package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/cbodonnell/tether/pkg/repositories/models"
)

var _ Repository = &InMemoryRepository{}

// InMemoryRepository keeps records for the lifetime of the process. It is
// used when no database is configured.
type InMemoryRepository struct {
	lock     sync.RWMutex
	sessions []*models.SessionRecord
	desyncs  []*models.DesyncRecord
	respawns []*models.RespawnRecord
	bans     map[string]*models.BanRecord
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		bans: make(map[string]*models.BanRecord),
	}
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *record
	r.sessions = append(r.sessions, &c)
	return nil
}

func (r *InMemoryRepository) SaveDesync(ctx context.Context, record *models.DesyncRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *record
	r.desyncs = append(r.desyncs, &c)
	return nil
}

func (r *InMemoryRepository) SaveRespawn(ctx context.Context, record *models.RespawnRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *record
	r.respawns = append(r.respawns, &c)
	return nil
}

func (r *InMemoryRepository) SaveBan(ctx context.Context, record *models.BanRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *record
	r.bans[record.UserID] = &c
	return nil
}

func (r *InMemoryRepository) DeleteBan(ctx context.Context, userID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.bans[userID]; !ok {
		return &ErrNotFound{Kind: "ban", Key: userID}
	}
	delete(r.bans, userID)
	return nil
}

func (r *InMemoryRepository) ListSessions(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return newestFirst(r.sessions, limit), nil
}

func (r *InMemoryRepository) ListDesyncs(ctx context.Context, limit int) ([]*models.DesyncRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return newestFirst(r.desyncs, limit), nil
}

func (r *InMemoryRepository) ListBans(ctx context.Context) ([]*models.BanRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*models.BanRecord, 0, len(r.bans))
	for _, b := range r.bans {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func newestFirst[T any](records []*T, limit int) []*T {
	var out []*T
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		c := *records[i]
		out = append(out, &c)
	}
	return out
}
