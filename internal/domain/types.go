package domain

// RunStatus represents the lifecycle phase of a run
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunCloning   RunStatus = "CLONING"
	RunTesting   RunStatus = "TESTING"
	RunDebugging RunStatus = "DEBUGGING"
	RunReporting RunStatus = "REPORTING"
	RunComplete  RunStatus = "COMPLETE"
	RunFailed    RunStatus = "FAILED"
)

// statusOrder fixes the forward progression of a run. FAILED sits outside
// the order and is reachable from any non-terminal status.
var statusOrder = map[RunStatus]int{
	RunQueued:    0,
	RunCloning:   1,
	RunTesting:   2,
	RunDebugging: 3,
	RunReporting: 4,
	RunComplete:  5,
}

// statusLabels are the user-facing names for each status
var statusLabels = map[RunStatus]string{
	RunQueued:    "Queued",
	RunCloning:   "Cloning",
	RunTesting:   "Testing",
	RunDebugging: "Debugging",
	RunReporting: "Reporting",
	RunComplete:  "Complete",
	RunFailed:    "Failed",
}

// IsTerminal reports whether no further transitions are allowed
func (s RunStatus) IsTerminal() bool {
	return s == RunComplete || s == RunFailed
}

// IsValid reports whether s is a known status
func (s RunStatus) IsValid() bool {
	_, ok := statusOrder[s]
	return ok || s == RunFailed
}

// Label returns the user-facing name of the status
func (s RunStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// CanTransitionTo reports whether moving from s to next is legal.
// Forward moves must strictly advance the fixed order; DEBUGGING may be
// skipped (TESTING -> REPORTING) but never revisited. FAILED is allowed
// from any non-terminal status.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RunFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	if to == from+1 {
		return true
	}
	// The single legal skip: zero failing tests bypass DEBUGGING.
	return s == RunTesting && next == RunReporting
}

// RunCategory selects what kind of test suite the planner generates
type RunCategory string

const (
	CategoryFullStack    RunCategory = "FULL_STACK"
	CategoryFrontendOnly RunCategory = "FRONTEND_ONLY"
)

// IsValid reports whether c is a known category
func (c RunCategory) IsValid() bool {
	return c == CategoryFullStack || c == CategoryFrontendOnly
}
