package etl

import "fmt"

// State is the ETL synchronizer's per-table state machine position.
//
// Normal cycle: IDLE → FETCHING → VALIDATING → UPSERTING →
// ADVANCING_CURSOR → IDLE. Any step failure transitions to FAILED, which
// gates the next attempt behind an exponential backoff and then re-enters
// FETCHING.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateValidating
	StateUpserting
	StateAdvancingCursor
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateValidating:
		return "validating"
	case StateUpserting:
		return "upserting"
	case StateAdvancingCursor:
		return "advancing_cursor"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
