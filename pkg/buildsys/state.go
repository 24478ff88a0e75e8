package buildsys

import "fmt"

// Stage is a step of the linear build state machine
type Stage int

const (
	StageIdle Stage = iota
	StageResetting
	StageToolchain
	StageSummarizing
	StageDone
	StageFailed
)

var stageNames = map[Stage]string{
	StageIdle:        "idle",
	StageResetting:   "resetting",
	StageToolchain:   "toolchain",
	StageSummarizing: "summarizing",
	StageDone:        "done",
	StageFailed:      "failed",
}

func (s Stage) String() string {
	name, ok := stageNames[s]
	if !ok {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return name
}

// State is the current position in the state machine. Toolchain is only set for
// StageToolchain and, after a failed toolchain, for StageFailed.
type State struct {
	Stage     Stage
	Toolchain string
}

func (s State) String() string {
	if s.Toolchain != "" {
		return fmt.Sprintf("%s(%s)", s.Stage, s.Toolchain)
	}
	return s.Stage.String()
}

// Terminal reports whether the run has ended
func (s State) Terminal() bool {
	return s.Stage == StageDone || s.Stage == StageFailed
}
