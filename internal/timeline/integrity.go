package timeline

import (
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Integrity is the result of reassessing a persisted timeline on load,
// mirroring the original's TimelineIntegrity dataclass.
type Integrity struct {
	Status   contract.TimelineStatus
	Checksum string
	Issues   []string
}

// AssessIntegrity classifies a persisted timeline's consistency without
// mutating it (spec.md §4.8). declaredChecksum is the checksum the payload
// claims to carry, if any; pass "" when none was persisted alongside it.
func AssessIntegrity(entries []contract.AgentTimelineEntry, declaredChecksum string) Integrity {
	if len(entries) == 0 {
		return Integrity{Status: contract.TimelineMissing}
	}

	var issues []string
	sequences := make([]int, 0, len(entries))
	callIDs := make(map[string]bool, len(entries))

	for _, e := range entries {
		if e.Sequence < 0 {
			issues = append(issues, "missing_sequence")
		} else {
			sequences = append(sequences, e.Sequence)
		}

		if e.Kind == contract.TimelineToolCall {
			if e.CallID == "" {
				issues = append(issues, "missing_call_id")
			} else if callIDs[e.CallID] {
				issues = append(issues, "duplicate_call_id")
			} else {
				callIDs[e.CallID] = true
			}
		}
	}

	if len(sequences) > 0 {
		unique := uniqueSorted(sequences)
		if len(unique) != len(sequences) {
			issues = append(issues, "duplicate_sequence")
		}
		expected := unique[0]
		for _, v := range unique {
			if v != expected {
				issues = append(issues, "non_contiguous_sequence")
				break
			}
			expected++
		}
	}

	checksum, err := Checksum(entries)
	if err != nil {
		checksum = ""
		issues = append(issues, "checksum_error")
	} else if declaredChecksum != "" && declaredChecksum != checksum {
		issues = append(issues, "checksum_mismatch")
	}

	status := contract.TimelineValid
	if len(issues) > 0 {
		status = contract.TimelineDamaged
	}
	return Integrity{Status: status, Checksum: checksum, Issues: issues}
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
