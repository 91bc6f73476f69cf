package fetch

// Decision is the admission-check outcome evaluated before any I/O.
// Skips are ordinary control flow, not errors.
type Decision int

const (
	Proceed Decision = iota
	// SkipSameArea: the new cell set overlaps the most recent fetch at or
	// above the configured threshold.
	SkipSameArea
	// SkipInFlight: a fetch for substantially the same area is already
	// running.
	SkipInFlight
	// SkipDebounced: a different viewport was fetched less than a
	// debounce interval ago.
	SkipDebounced
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipSameArea:
		return "skip_same_area"
	case SkipInFlight:
		return "skip_in_flight"
	case SkipDebounced:
		return "skip_debounced"
	default:
		return "unknown"
	}
}
