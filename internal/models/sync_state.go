// Package models provides data model definitions for the ExpandNote sync core.
package models

// SyncState is the per-entity reconciliation state. It replaces the scattered
// boolean/string sync flags with one tagged value and a single transition
// function, so no ambiguous flag combination is representable.
type SyncState string

const (
	// StateLocalOnly: the entity exists locally and has never been synced.
	StateLocalOnly SyncState = "local_only"
	// StatePending: at least one queued mutation awaits the reconciler.
	StatePending SyncState = "pending"
	// StateSyncing: a mutation for this entity is in flight.
	StateSyncing SyncState = "syncing"
	// StateSynced: queue empty and sync_version matches the server.
	StateSynced SyncState = "synced"
	// StateConflict: the server rejected a version and automatic merge failed;
	// an explicit keep-local/take-remote decision is required.
	StateConflict SyncState = "conflict"
	// StateOffline: the network is unavailable; retry is deferred.
	StateOffline SyncState = "offline"
)

// SyncEvent drives SyncState transitions.
type SyncEvent string

const (
	// EventEnqueue: a local write was queued.
	EventEnqueue SyncEvent = "enqueue"
	// EventSendStart: the reconciler picked up the entity's head entry.
	EventSendStart SyncEvent = "send_start"
	// EventAck: the server confirmed the entry and more work is queued.
	EventAck SyncEvent = "ack"
	// EventAckDrained: the server confirmed the entry and the queue is empty.
	EventAckDrained SyncEvent = "ack_drained"
	// EventConflict: the server rejected the version and merge failed.
	EventConflict SyncEvent = "conflict"
	// EventNetworkDown: the attempt failed with a transport error.
	EventNetworkDown SyncEvent = "network_down"
	// EventNetworkUp: connectivity regained; deferred work is pending again.
	EventNetworkUp SyncEvent = "network_up"
	// EventRollback: a permanent rejection rolled the mirror back; the
	// entity either still has queued work (pending) or is back in sync.
	EventRollback SyncEvent = "rollback"
	// EventRollbackDrained: as EventRollback with an empty queue.
	EventRollbackDrained SyncEvent = "rollback_drained"
	// EventResolved: a parked conflict was resolved explicitly.
	EventResolved SyncEvent = "resolved"
)

// Transition is the single authoritative state-transition function.
// Unknown (state, event) pairs keep the current state: transitions are only
// ever driven by the reconciler, so an unexpected pair is a stale event, not
// a reachable state.
func Transition(s SyncState, e SyncEvent) SyncState {
	switch e {
	case EventEnqueue:
		// A conflicted entity stays parked until resolved, even if more
		// local edits pile up behind it.
		if s == StateConflict {
			return StateConflict
		}
		return StatePending
	case EventSendStart:
		if s == StateConflict {
			return StateConflict
		}
		return StateSyncing
	case EventAck:
		return StatePending
	case EventAckDrained:
		return StateSynced
	case EventConflict:
		return StateConflict
	case EventNetworkDown:
		if s == StateConflict {
			return StateConflict
		}
		return StateOffline
	case EventNetworkUp:
		if s == StateOffline {
			return StatePending
		}
		return s
	case EventRollback:
		if s == StateConflict {
			return StateConflict
		}
		return StatePending
	case EventRollbackDrained:
		if s == StateConflict {
			return StateConflict
		}
		return StateSynced
	case EventResolved:
		return StatePending
	}
	return s
}

// statePrecedence orders states by urgency for aggregation; higher wins.
var statePrecedence = map[SyncState]int{
	StateSynced:    0,
	StateLocalOnly: 1,
	StatePending:   2,
	StateSyncing:   3,
	StateOffline:   4,
	StateConflict:  5,
}

// MoreUrgent reports whether a is more urgent than b for status aggregation
// (conflict > offline > syncing > pending > synced).
func MoreUrgent(a, b SyncState) bool {
	return statePrecedence[a] > statePrecedence[b]
}

// AggregateStates reduces a set of entity states to the single user-facing
// status. LocalOnly collapses into pending for display: a never-synced entity
// with no queued work is indistinguishable from a synced one to the user, and
// one with queued work reports pending through its queue state.
func AggregateStates(states []SyncState) SyncState {
	agg := StateSynced
	for _, s := range states {
		if s == StateLocalOnly {
			continue
		}
		if MoreUrgent(s, agg) {
			agg = s
		}
	}
	return agg
}
