package generator

// State is the step a cycle is in.
type State int

const (
	Creating State = iota
	Editing
	Deleting
	Waiting
)

func (s State) String() string {
	switch s {
	case Creating:
		return "creating"
	case Editing:
		return "editing"
	case Deleting:
		return "deleting"
	case Waiting:
		return "waiting"
	default:
		return "unknown"
	}
}
