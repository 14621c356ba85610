// Package status tracks per-entity sync states and folds them into the
// single user-facing status, ordered by urgency:
// conflict > offline > syncing > pending > synced.
package status

import (
	"sync"

	"github.com/altitudeinfosys/expandnote/internal/logging"
	"github.com/altitudeinfosys/expandnote/internal/models"
)

// DrainTrigger requests a queue drain. TriggerDrain reports whether a new
// drain actually started; calling it during a running drain is a no-op.
type DrainTrigger interface {
	TriggerDrain() bool
}

// Broadcaster pushes status changes to connected UI clients. All methods
// must be safe to call from reconciler goroutines.
type Broadcaster interface {
	StateChanged(entityType models.EntityType, entityID string, state models.SyncState)
	DrainStarted()
	DrainCompleted()
	DrainFailed(reason string)
	ConflictDetected(rec *models.ConflictRecord)
}

// Aggregator is the sync status surface: it receives state machine events
// from the reconciler and answers status queries from the UI.
type Aggregator struct {
	mu     sync.RWMutex
	states map[string]models.SyncState

	drain       DrainTrigger
	broadcaster Broadcaster
}

// NewAggregator creates an Aggregator. The drain trigger and broadcaster are
// attached later to break the construction cycle with the reconciler.
func NewAggregator() *Aggregator {
	return &Aggregator{states: make(map[string]models.SyncState)}
}

// SetDrainTrigger attaches the reconciler's drain entry point.
func (a *Aggregator) SetDrainTrigger(d DrainTrigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drain = d
}

// SetBroadcaster attaches the UI push channel. A nil broadcaster is fine;
// events are then only queryable.
func (a *Aggregator) SetBroadcaster(b Broadcaster) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcaster = b
}

func entityKey(entityType models.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}

// Apply feeds one event through the entity's state machine and broadcasts
// the new state if it changed.
func (a *Aggregator) Apply(entityType models.EntityType, entityID string, event models.SyncEvent) models.SyncState {
	a.mu.Lock()
	key := entityKey(entityType, entityID)
	old, known := a.states[key]
	if !known {
		old = models.StateLocalOnly
	}
	next := models.Transition(old, event)
	if next == models.StateSynced {
		// Synced entities need no tracking; absence means synced
		delete(a.states, key)
	} else {
		a.states[key] = next
	}
	b := a.broadcaster
	a.mu.Unlock()

	if next != old {
		logging.Debug("sync state changed", map[string]interface{}{
			"entity": key, "from": string(old), "to": string(next), "event": string(event),
		})
		if b != nil {
			b.StateChanged(entityType, entityID, next)
		}
	}
	return next
}

// EntityState returns the tracked state of one entity, StateSynced when the
// entity is not tracked.
func (a *Aggregator) EntityState(entityType models.EntityType, entityID string) models.SyncState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.states[entityKey(entityType, entityID)]; ok {
		return s
	}
	return models.StateSynced
}

// Aggregate folds all tracked entity states into the user-facing status.
func (a *Aggregator) Aggregate() models.SyncState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	states := make([]models.SyncState, 0, len(a.states))
	for _, s := range a.states {
		states = append(states, s)
	}
	return models.AggregateStates(states)
}

// Snapshot returns a copy of every tracked entity state.
func (a *Aggregator) Snapshot() map[string]models.SyncState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]models.SyncState, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

// ManualSync requests an immediate drain. Idempotent: a request while a
// drain is already running returns false and starts nothing new.
func (a *Aggregator) ManualSync() bool {
	a.mu.RLock()
	d := a.drain
	a.mu.RUnlock()
	if d == nil {
		return false
	}
	return d.TriggerDrain()
}

// Broadcaster accessors used by the reconciler for drain lifecycle events.

// NotifyDrainStarted forwards the drain-start signal to UI clients.
func (a *Aggregator) NotifyDrainStarted() {
	if b := a.currentBroadcaster(); b != nil {
		b.DrainStarted()
	}
}

// NotifyDrainCompleted forwards the drain-completion signal to UI clients.
func (a *Aggregator) NotifyDrainCompleted() {
	if b := a.currentBroadcaster(); b != nil {
		b.DrainCompleted()
	}
}

// NotifyDrainFailed forwards a drain failure to UI clients.
func (a *Aggregator) NotifyDrainFailed(reason string) {
	if b := a.currentBroadcaster(); b != nil {
		b.DrainFailed(reason)
	}
}

// NotifyConflict forwards a newly detected conflict to UI clients.
func (a *Aggregator) NotifyConflict(rec *models.ConflictRecord) {
	if b := a.currentBroadcaster(); b != nil {
		b.ConflictDetected(rec)
	}
}

func (a *Aggregator) currentBroadcaster() Broadcaster {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.broadcaster
}
