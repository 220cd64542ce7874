package planner

// ActionKind identifies what an Action instructs the executor to do.
type ActionKind string

const (
	ActionDeregisterAgent ActionKind = "DeregisterAgent"
	ActionDeletePod       ActionKind = "DeletePod"
	ActionRelabelPod      ActionKind = "RelabelPod"
	ActionCreatePod       ActionKind = "CreatePod"
)

// Action is one step of the ordered plan the executor applies in order.
// Not every field is populated for every kind:
//   - DeregisterAgent: AgentName
//   - DeletePod: PodName
//   - RelabelPod: PodName, Labels
//   - CreatePod: Index, IsMinAgent, Capability, JobRequestID (optional),
//     PodName (derived from Index, carried for convenience)
type Action struct {
	Kind         ActionKind
	PodName      string
	AgentName    string
	Labels       map[string]string
	Index        int
	IsMinAgent   bool
	Capability   string
	JobRequestID string
}
