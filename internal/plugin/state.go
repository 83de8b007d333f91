package plugin

import "fmt"

// State is a step of the per-plugin lifecycle. A plugin only moves forward;
// a failure in any state ends it.
type State int

const (
	StateDiscovered State = iota
	StateLoaded
	StateInstantiated
	StateBound
	StateCalledLanguage
	StateCalledGreet
	StateFinished
)

var stateNames = [...]string{
	StateDiscovered:     "Discovered",
	StateLoaded:         "Loaded",
	StateInstantiated:   "Instantiated",
	StateBound:          "Bound",
	StateCalledLanguage: "CalledLanguage",
	StateCalledGreet:    "CalledGreet",
	StateFinished:       "Finished",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrorPolicy decides what a failing plugin does to the rest of the run.
type ErrorPolicy string

const (
	// PolicyFailFast aborts the run on the first failure.
	PolicyFailFast ErrorPolicy = "fail-fast"

	// PolicyContinue logs the failure, runs the remaining plugins and
	// returns every failure at the end.
	PolicyContinue ErrorPolicy = "continue"
)

// ParseErrorPolicy parses a policy name. The empty string means fail-fast.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", PolicyFailFast:
		return PolicyFailFast, nil
	case PolicyContinue:
		return PolicyContinue, nil
	default:
		return "", fmt.Errorf("unknown error policy '%s' (must be one of: %s, %s)", s, PolicyFailFast, PolicyContinue)
	}
}
