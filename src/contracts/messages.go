// Package contracts defines the events serf publishes to its message broker.
package contracts

// Topic names used on the broker.
const (
	// TopicDispatchOutcomes carries one DispatchOutcome per watch job.
	TopicDispatchOutcomes = "serf.dispatch.outcomes"

	// TopicBuilds carries one BuildEvent per commit status transition.
	TopicBuilds = "serf.builds"
)

// DispatchOutcome records the result of running the watch command for one
// changed reference.
// Published to: serf.dispatch.outcomes
// Key: {repository}
type DispatchOutcome struct {
	Repository string `json:"repository"`
	RefName    string `json:"ref_name"`
	SHA        string `json:"sha"`
	Command    string `json:"command"`
	Succeeded  bool   `json:"succeeded"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// BuildEvent records a state transition of a single-build run.
// Published to: serf.builds
// Key: {build_id}
type BuildEvent struct {
	BuildID    string `json:"build_id"`
	Repository string `json:"repository"`
	SHA        string `json:"sha"`
	Name       string `json:"name,omitempty"`
	State      string `json:"state"` // pending, success, failure, error
	TargetURL  string `json:"target_url,omitempty"`
	Timestamp  string `json:"timestamp"`
}
