package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Status tracks which listeners hold a live subscription.
type Status struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewStatus() *Status {
	return &Status{running: make(map[string]bool)}
}

func (s *Status) set(name string, up bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = up
}

// Ready returns an error naming the listeners that are not subscribed.
func (s *Status) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var down []string
	for _, sub := range Subscriptions {
		if !s.running[sub.Name()] {
			down = append(down, sub.Name())
		}
	}
	if len(down) == 0 {
		return nil
	}
	sort.Strings(down)
	return fmt.Errorf("listeners not subscribed: %s", strings.Join(down, ", "))
}
