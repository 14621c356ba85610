package conflict

import (
	"encoding/json"

	"github.com/altitudeinfosys/expandnote/internal/config"
)

// Outcome is what the resolver decided for an unmergeable conflict.
type Outcome int

const (
	// OutcomeLocalWins: re-apply the local document over the server state.
	OutcomeLocalWins Outcome = iota
	// OutcomeRemoteWins: accept the server state and drop the local edit
	// from the queue (it is preserved in the conflict record).
	OutcomeRemoteWins
	// OutcomeManual: park the entity and wait for an explicit decision.
	OutcomeManual
)

// Resolver applies the configured strategy to conflicts the field merge
// could not settle.
type Resolver struct {
	strategy config.ConflictStrategy
}

// NewResolver creates a Resolver for the given strategy.
func NewResolver(strategy config.ConflictStrategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// Resolve decides between the local and remote documents. Under
// last-writer-wins the side with the larger updated_at wins, the remote on a
// tie since it is already durable. Under manual the entity is parked.
func (r *Resolver) Resolve(local, remote json.RawMessage) Outcome {
	if r.strategy != config.StrategyLastWriteWins {
		return OutcomeManual
	}
	if UpdatedAt(local) > UpdatedAt(remote) {
		return OutcomeLocalWins
	}
	return OutcomeRemoteWins
}
