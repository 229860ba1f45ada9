package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Check probes one dependency and returns nil when it is reachable.
type Check func(ctx context.Context) error

// Service runs registered dependency checks for the health endpoint.
type Service struct {
	mu      sync.RWMutex
	checks  map[string]Check
	Timeout time.Duration
}

// NewService constructs a health service with no checks.
func NewService() *Service {
	return &Service{checks: make(map[string]Check)}
}

// Register adds or replaces the check named name.
func (s *Service) Register(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Status runs every check concurrently. ok is false when any check fails;
// results maps each check name to "ok" or its error text.
func (s *Service) Status(ctx context.Context) (bool, map[string]string) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			errs[i] = c(checkCtx)
		}()
	}
	wg.Wait()

	ok := true
	results := make(map[string]string, len(names))
	for i, name := range names {
		if errs[i] != nil {
			ok = false
			results[name] = errs[i].Error()
			continue
		}
		results[name] = "ok"
	}
	return ok, results
}
