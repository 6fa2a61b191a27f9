package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// ErrAllAbstained is returned when every validator in the stack
// abstained on a candidate event: none explicitly Allowed it, so it is
// rejected even though none explicitly Denied it either.
var ErrAllAbstained = fmt.Errorf("plugin: all validators abstained")

// Stack is an ordered collection of plugins feeding a single chain.
// Registration order is significant: transformers apply in that order,
// and validators/linters/indexers all run against the transformed
// result before the write is admitted.
type Stack struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewStack builds a Stack from plugins, run in the given order.
func NewStack(plugins ...Plugin) *Stack {
	s := &Stack{plugins: make([]Plugin, len(plugins))}
	copy(s.plugins, plugins)
	return s
}

// Append adds p to the end of the stack.
func (s *Stack) Append(p Plugin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins = append(s.plugins, p)
}

// Len reports how many plugins are registered.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plugins)
}

// FeedResult is what the chain engine needs after a candidate event
// has been run through every registered plugin.
type FeedResult struct {
	Event  eventmodel.WeakEvent
	Header eventmodel.EventHeaderRaw
}

// Feed runs ev through every transformer, then derives the header and
// runs it through every validator, linter, and indexer. Indexers only
// run once validation and linting both succeed — an indexed view of a
// rejected write would desync the timeline from the redo log.
func (s *Stack) Feed(ctx context.Context, ev eventmodel.WeakEvent) (FeedResult, error) {
	s.mu.RLock()
	plugins := make([]Plugin, len(s.plugins))
	copy(plugins, s.plugins)
	s.mu.RUnlock()

	for _, p := range plugins {
		transformed, err := p.Transform(ctx, ev)
		if err != nil {
			return FeedResult{}, fmt.Errorf("plugin: transform: %w", err)
		}
		ev = transformed
	}

	strong, err := ev.Strengthen()
	if err != nil {
		return FeedResult{}, fmt.Errorf("plugin: strengthen before validation: %w", err)
	}
	header, err := eventmodel.BuildHeader(strong)
	if err != nil {
		return FeedResult{}, fmt.Errorf("plugin: build header: %w", err)
	}

	var denyReasons []string
	allowed := false
	for _, p := range plugins {
		vote, err := p.Validate(ctx, strong, header.Raw)
		switch vote {
		case Deny:
			reason := "denied"
			if err != nil {
				reason = err.Error()
			}
			denyReasons = append(denyReasons, reason)
		case Allow:
			allowed = true
		case Abstain:
		}
	}
	if len(denyReasons) > 0 {
		return FeedResult{}, fmt.Errorf("plugin: validate: %s", strings.Join(denyReasons, " + "))
	}
	if !allowed {
		return FeedResult{}, ErrAllAbstained
	}
	for _, p := range plugins {
		if err := p.Lint(ctx, strong, header.Raw); err != nil {
			return FeedResult{}, fmt.Errorf("plugin: lint: %w", err)
		}
	}
	for _, p := range plugins {
		if err := p.Index(ctx, strong, header.Raw); err != nil {
			return FeedResult{}, fmt.Errorf("plugin: index: %w", err)
		}
	}

	return FeedResult{Event: ev, Header: header.Raw}, nil
}

// Clone returns a Stack with every Clonable plugin replaced by its own
// clone, and every other plugin reused as-is. Used before a scratch
// replay (mesh catch-up, compaction dry run) so the live stack's
// indexes are untouched if the replay is abandoned.
func (s *Stack) Clone() *Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Plugin, len(s.plugins))
	for i, p := range s.plugins {
		if c, ok := p.(Clonable); ok {
			out[i] = c.Clone()
			continue
		}
		out[i] = p
	}
	return &Stack{plugins: out}
}

// Reset calls Reset on every Resettable plugin, discarding accumulated
// index state ahead of a full rebuild from the redo log.
func (s *Stack) Reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plugins {
		if r, ok := p.(Resettable); ok {
			r.Reset()
		}
	}
}
