// Package plugin defines the pluggable stages an event passes through
// before it is admitted to a chain's redo log: validation, indexing,
// linting, and metadata transformation, run in a fixed order by a
// PluginStack.
package plugin

import (
	"context"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// ValidationVote is one validator's verdict on a candidate event.
type ValidationVote int

const (
	// Abstain means the validator has no opinion on this event — it
	// neither permits nor blocks the write. A stack whose validators
	// all abstain rejects the write anyway (ErrAllAbstained): silence
	// from every validator is not the same as permission.
	Abstain ValidationVote = iota
	// Allow explicitly permits the write. At least one validator must
	// Allow for a write to be admitted.
	Allow
	// Deny vetoes the write outright, regardless of any Allow vote.
	Deny
)

// Validator rejects malformed or unauthorized events before they are
// written. Rather than a plain error, it votes Allow, Deny, or
// Abstain: a write is admitted only once some validator explicitly
// Allows it and none Deny it; if every validator abstains the write is
// rejected with ErrAllAbstained. A Deny vote should pair with a
// non-nil error describing the reason — the stack concatenates every
// denying validator's reason into the final rejection.
type Validator interface {
	Validate(ctx context.Context, ev eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) (ValidationVote, error)
}

// Indexer observes an admitted event to maintain auxiliary state (the
// timeline's primary/secondary/parent indexes, for instance). Indexers
// never veto a write; they run after validation succeeds.
type Indexer interface {
	Index(ctx context.Context, ev eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) error
}

// Linter checks conventions that are advisory rather than correctness
// invariants (for example: "replies must carry a SignWith for their
// parent's key"). A Linter's error also vetoes the write, same as a
// Validator, but the two are kept as distinct roles because a plugin
// stack may want to run linters only in development.
type Linter interface {
	Lint(ctx context.Context, ev eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) error
}

// Transformer rewrites an event's metadata before it is hashed and
// written — appending a Timestamp record from the node's time keeper,
// say. Transformers run in registration order and see the output of
// the previous one.
type Transformer interface {
	Transform(ctx context.Context, ev eventmodel.WeakEvent) (eventmodel.WeakEvent, error)
}

// Plugin combines every role so a single implementation (the trust
// tree, for instance) can participate in more than one stage.
type Plugin interface {
	Validator
	Indexer
	Linter
	Transformer
}

// Clonable lets a plugin hand back a fresh copy of its mutable state
// for the chain engine's clone-on-fork scenarios (mesh catch-up replay
// against a scratch plugin stack before committing to the live one).
// Plugins with no mutable state can leave this unimplemented — the
// stack falls back to reusing the same instance.
type Clonable interface {
	Clone() Plugin
}

// Resettable lets a plugin discard accumulated state, used when the
// compactor rewrites a chain and indexes must be rebuilt from scratch.
type Resettable interface {
	Reset()
}
