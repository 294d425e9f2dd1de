// Package health runs lightweight liveness checks over the daemon's
// dependencies: the state database, the identity source and the kernel
// facilities enforcement relies on.
package health

// Status is the outcome of one check.
type Status string

// Check outcomes.
const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one named probe result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Worst returns the most severe status across checks.
func Worst(checks []Check) Status {
	worst := StatusOK
	for _, c := range checks {
		switch {
		case c.Status == StatusFail:
			return StatusFail
		case c.Status == StatusWarn:
			worst = StatusWarn
		}
	}
	return worst
}
