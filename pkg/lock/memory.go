package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
)

// Memory is an in-process Locker. It excludes goroutines of one process
// only and is meant for tests and embedded single-process lakes.
type Memory struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewMemory creates an in-process Locker.
func NewMemory() *Memory {
	return &Memory{sems: make(map[string]chan struct{})}
}

func (m *Memory) sem(scope Scope) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.String()
	s, ok := m.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.sems[key] = s
	}
	return s
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, scope Scope, timeout time.Duration) (*Guard, error) {
	sem := m.sem(scope)

	select {
	case sem <- struct{}{}:
		return newGuard(scope, memoryLease{sem: sem}), nil
	default:
	}
	if timeout <= 0 {
		return nil, &lakeerr.LockTimeoutError{Scope: scope.String(), Timeout: timeout}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return newGuard(scope, memoryLease{sem: sem}), nil
	case <-timer.C:
		return nil, &lakeerr.LockTimeoutError{Scope: scope.String(), Timeout: timeout}
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire %s: %w", scope, ctx.Err())
	}
}

type memoryLease struct {
	sem chan struct{}
}

func (memoryLease) refresh(context.Context) error { return nil }

func (l memoryLease) release() error {
	<-l.sem
	return nil
}
