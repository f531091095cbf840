package memory

import (
	"context"
	"sort"
	"sync"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

type directiveKey struct {
	bot   string
	param domain.Parameter
}

// DirectiveStore is an in-memory implementation of storage.DirectiveStore.
type DirectiveStore struct {
	mu   sync.RWMutex
	data map[directiveKey][]*domain.Directive // append order per pair
}

// NewDirectiveStore creates a new in-memory directive store.
func NewDirectiveStore() *DirectiveStore {
	return &DirectiveStore{
		data: make(map[directiveKey][]*domain.Directive),
	}
}

// Append records a newly issued directive.
func (s *DirectiveStore) Append(_ context.Context, d *domain.Directive) error {
	if d == nil || d.Bot == "" || d.Parameter == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := directiveKey{bot: d.Bot, param: d.Parameter}
	copy := *d
	s.data[key] = append(s.data[key], &copy)
	return nil
}

// Active retrieves the most recent directive by IssuedAt for (bot, parameter).
// IssuedAt ties resolve to the latest appended.
func (s *DirectiveStore) Active(_ context.Context, bot string, param domain.Parameter) (*domain.Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[directiveKey{bot: bot, param: param}]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := list[0]
	for _, d := range list[1:] {
		if !d.IssuedAt.Before(latest.IssuedAt) {
			latest = d
		}
	}

	copy := *latest
	return &copy, nil
}

// ActiveForBot retrieves the active directive for every parameter of a bot.
func (s *DirectiveStore) ActiveForBot(_ context.Context, bot string) ([]*domain.Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Directive
	for key, list := range s.data {
		if key.bot != bot || len(list) == 0 {
			continue
		}
		latest := list[0]
		for _, d := range list[1:] {
			if !d.IssuedAt.Before(latest.IssuedAt) {
				latest = d
			}
		}
		copy := *latest
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Parameter < result[j].Parameter
	})

	return result, nil
}

// History retrieves all directives for (bot, parameter), ordered by IssuedAt ASC.
func (s *DirectiveStore) History(_ context.Context, bot string, param domain.Parameter) ([]*domain.Directive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[directiveKey{bot: bot, param: param}]
	result := make([]*domain.Directive, 0, len(list))
	for _, d := range list {
		copy := *d
		result = append(result, &copy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].IssuedAt.Before(result[j].IssuedAt)
	})

	return result, nil
}

var _ storage.DirectiveStore = (*DirectiveStore)(nil)
