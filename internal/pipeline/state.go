package pipeline

// State is a controller lifecycle phase.
type State int

// Controller states. A controller moves forward only.
const (
	StateIdle State = iota
	StateValidating
	StateTraversing
	StateDraining
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateTraversing:
		return "traversing"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Reason explains why a run stopped.
type Reason string

// Termination reasons reported in Summary and the close log.
const (
	ReasonFinished     Reason = "finished"
	ReasonInvalidDate  Reason = "invalid_target_date"
	ReasonSchemaError  Reason = "schema_error"
	ReasonListingError Reason = "listing_error"
	ReasonFlushError   Reason = "flush_error"
	ReasonCanceled     Reason = "canceled"
)
