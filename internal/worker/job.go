package worker

import "context"

type JobType int

const (
	Run JobType = iota
	Stop
)

func (t JobType) String() string {
	if t == Stop {
		return "stop"
	}
	return "run"
}

// Job is one unit of work owned by a user. Jobs of the same owner run in
// submission order; owners are served round-robin.
type Job struct {
	Type    JobType
	OwnerID int64
	Name    string
	Task    func(ctx context.Context)
}
