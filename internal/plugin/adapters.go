package plugin

import (
	"context"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// Base implements every Plugin method as a no-op so a concrete plugin
// can embed it and override only the stages it cares about, the way
// the teacher's consensus package lets callers embed partial service
// implementations rather than hand-write every interface method.
type Base struct{}

func (Base) Validate(context.Context, eventmodel.StrongEvent, eventmodel.EventHeaderRaw) (ValidationVote, error) {
	return Abstain, nil
}

func (Base) Index(context.Context, eventmodel.StrongEvent, eventmodel.EventHeaderRaw) error {
	return nil
}

func (Base) Lint(context.Context, eventmodel.StrongEvent, eventmodel.EventHeaderRaw) error {
	return nil
}

func (Base) Transform(_ context.Context, ev eventmodel.WeakEvent) (eventmodel.WeakEvent, error) {
	return ev, nil
}

var _ Plugin = Base{}
