package types

// StepState is the lifecycle state of a pipeline step.
// A step moves Pending -> Running -> one terminal state, at most once.
type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepSuccess StepState = "success"
	StepSkipped StepState = "skipped"
	StepError   StepState = "error"
)

// Terminal reports whether s is a final state.
func (s StepState) Terminal() bool {
	return s == StepSuccess || s == StepSkipped || s == StepError
}

// Completed reports whether a step in state s produced its outputs.
func (s StepState) Completed() bool {
	return s == StepSuccess || s == StepSkipped
}

// StepGroup labels steps for presentation. Groups carry no semantics.
type StepGroup string

const (
	GroupPrepare  StepGroup = "prepare"
	GroupDownload StepGroup = "download"
	GroupPatch    StepGroup = "patch"
	GroupInstall  StepGroup = "install"
)
