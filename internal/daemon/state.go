package daemon

// State is the daemon lifecycle state.
type State string

const (
	StateStarting    State = "starting"
	StateIdle        State = "idle"
	StateDispatching State = "dispatching"
	StateExiting     State = "exiting"
)

func (s State) String() string {
	return string(s)
}
