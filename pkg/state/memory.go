package state

import (
	"context"
	"fmt"
	"sync"
)

type InMemoryStatusManager struct {
	lock   sync.RWMutex
	status *Status
}

func NewInMemoryStatusManager() *InMemoryStatusManager {
	return &InMemoryStatusManager{
		status: &Status{},
	}
}

func (m *InMemoryStatusManager) Get(ctx context.Context) (*Status, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.status.copy(), nil
}

func (m *InMemoryStatusManager) Set(ctx context.Context, status *Status) error {
	if status == nil {
		return fmt.Errorf("status is nil")
	}
	c := status.copy()

	m.lock.Lock()
	defer m.lock.Unlock()
	m.status = c
	return nil
}

func (s *Status) copy() *Status {
	c := *s
	c.Sessions = append([]SessionStatus(nil), s.Sessions...)
	if s.Vote != nil {
		v := *s.Vote
		c.Vote = &v
	}
	return &c
}
