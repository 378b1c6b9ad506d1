package lane

import "fmt"

// Policy is the overflow behavior of a lane.
type Policy int

const (
	// DropNewest rejects a record that does not fit.
	DropNewest Policy = iota
	// OverwriteOldest evicts the oldest records until the new one fits.
	OverwriteOldest
)

// String returns the configuration spelling of the policy.
func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case OverwriteOldest:
		return "overwrite-oldest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the configuration spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop-newest", "":
		return DropNewest, nil
	case "overwrite-oldest":
		return OverwriteOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown overflow policy %q: must be drop-newest or overwrite-oldest", s)
	}
}
