// Package timeline builds the canonical, checksummed timeline for one
// agent run and reassesses a persisted timeline's integrity on load,
// ported from the original implementation's timeline_utils.py (spec.md
// §4.8): a SHA-256 digest over the newline-free, sorted-key, compact-
// separator JSON encoding of each entry's six stable fields.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Checksum returns the deterministic hex digest for an ordered timeline.
// Go's encoding/json already sorts map[string]any keys alphabetically and
// emits no insignificant whitespace, which is exactly the stable encoding
// the original's json.dumps(sort_keys=True, separators=(",", ":")) call
// produces — so a plain map literal per entry reproduces it without any
// custom encoder.
func Checksum(entries []contract.AgentTimelineEntry) (string, error) {
	digest := sha256.New()
	for _, e := range entries {
		b, err := stableEntryJSON(e)
		if err != nil {
			return "", err
		}
		digest.Write(b)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func stableEntryJSON(e contract.AgentTimelineEntry) ([]byte, error) {
	normalized := map[string]any{
		"kind":        string(e.Kind),
		"sequence":    sequenceValue(e.Sequence),
		"occurred_at": occurredAtValue(e),
		"step_index":  stepIndexValue(e.StepIndex),
		"call_id":     callIDValue(e.CallID),
		"status":      statusValue(e.Status),
	}
	return json.Marshal(normalized)
}

// sequenceValue maps the missing-sequence sentinel (-1, used by a
// malformed/persisted timeline that never had one assigned) to JSON null,
// matching the original's Optional[int] = None.
func sequenceValue(seq int) any {
	if seq < 0 {
		return nil
	}
	return seq
}

func occurredAtValue(e contract.AgentTimelineEntry) any {
	if e.OccurredAt.IsZero() {
		return nil
	}
	return e.OccurredAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
}

func stepIndexValue(idx *int) any {
	if idx == nil {
		return nil
	}
	return *idx
}

func callIDValue(callID string) any {
	if callID == "" {
		return nil
	}
	return callID
}

func statusValue(status string) any {
	if status == "" {
		return nil
	}
	return status
}
