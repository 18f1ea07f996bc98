package epoch

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	Epoch    uint64
	BumpedAt time.Time
}

// Local keeps epochs in-process (default).
// Optional cleanup loop to prune long-inactive partitions.
type Local struct {
	mu     sync.RWMutex
	epochs map[string]localEntry
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	retention time.Duration
}

var _ Store = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{
		epochs:    make(map[string]localEntry),
		retention: retention,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Current(_ context.Context, partition string) (uint64, error) {
	s.mu.RLock()
	e, ok := s.epochs[partition]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return e.Epoch, nil
}

func (s *Local) Bump(_ context.Context, partition string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.epochs[partition]
	e.Epoch++
	e.BumpedAt = now
	s.epochs[partition] = e
	s.mu.Unlock()
	return e.Epoch, nil
}

// Cleanup prunes partitions whose last bump is older than retention.
// Pruned partitions read as epoch 0 again, which is safe: only snapshot
// validation consumes epochs, and a snapshot old enough to span the
// retention window is already past its TTL.
func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.epochs {
		if !e.BumpedAt.IsZero() && e.BumpedAt.Before(cutoff) {
			delete(s.epochs, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	if s.stopCh != nil {
		close(s.stopCh)
		if s.ticker != nil {
			s.ticker.Stop() // stop ticker before waiting
		}
		s.wg.Wait()
	}
	return nil
}
