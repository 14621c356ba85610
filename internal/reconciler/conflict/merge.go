// Package conflict implements version conflict handling: a three-way
// field-level merge first, then a configurable strategy for the fields the
// merge cannot settle.
package conflict

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Fields never merged: identity and bookkeeping belong to the server or are
// immutable, not user edits.
var skipFields = map[string]bool{
	"id":           true,
	"owner_id":     true,
	"sync_version": true,
	"created_at":   true,
}

// MergeResult carries the merged document and whether every field resolved
// cleanly. When Clean is false, Conflicting lists the fields both sides
// changed to different values; Merged still holds the best-effort document
// with local values in the conflicting slots.
type MergeResult struct {
	Merged      json.RawMessage
	Clean       bool
	Conflicting []string
}

// Merge performs a three-way field merge of entity JSON documents. base is
// the last state both sides agreed on (the pre-mutation snapshot), local the
// queued mutation's payload, remote the server's current state.
//
// A field changed on only one side takes that side's value. updated_at takes
// the larger of the two. A field changed on both sides to different values is
// a real conflict.
func Merge(base, local, remote json.RawMessage) (*MergeResult, error) {
	baseDoc, err := decode(base)
	if err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	localDoc, err := decode(local)
	if err != nil {
		return nil, fmt.Errorf("decode local: %w", err)
	}
	remoteDoc, err := decode(remote)
	if err != nil {
		return nil, fmt.Errorf("decode remote: %w", err)
	}

	merged := make(map[string]interface{}, len(remoteDoc))
	// Start from the server's view so fields we never touched locally keep
	// their authoritative values.
	for k, v := range remoteDoc {
		merged[k] = v
	}

	var conflicting []string
	for key, localVal := range localDoc {
		if skipFields[key] {
			continue
		}
		remoteVal, inRemote := remoteDoc[key]
		baseVal := baseDoc[key]

		if key == "updated_at" {
			merged[key] = maxNumber(localVal, remoteVal)
			continue
		}

		switch {
		case inRemote && reflect.DeepEqual(localVal, remoteVal):
			// Both sides agree
		case reflect.DeepEqual(localVal, baseVal):
			// Only remote changed it; keep remote
		case !inRemote || reflect.DeepEqual(remoteVal, baseVal):
			// Only local changed it; take local
			merged[key] = localVal
		default:
			conflicting = append(conflicting, key)
			merged[key] = localVal
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged: %w", err)
	}
	return &MergeResult{
		Merged:      out,
		Clean:       len(conflicting) == 0,
		Conflicting: conflicting,
	}, nil
}

func decode(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func maxNumber(a, b interface{}) interface{} {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		if af > bf {
			return af
		}
		return bf
	}
	if aok {
		return af
	}
	return b
}

// UpdatedAt extracts the updated_at field from entity JSON, zero when absent.
func UpdatedAt(raw json.RawMessage) int64 {
	doc, err := decode(raw)
	if err != nil {
		return 0
	}
	if v, ok := doc["updated_at"].(float64); ok {
		return int64(v)
	}
	return 0
}
