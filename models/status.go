package models

import "fmt"

type TaskStatus string

const (
	StatusPending           TaskStatus = "pending"
	StatusProcessing        TaskStatus = "processing"
	StatusOutlining         TaskStatus = "outlining"
	StatusContentGeneration TaskStatus = "content_generation"
	StatusImageGeneration   TaskStatus = "image_generation"
	StatusCompiling         TaskStatus = "compiling"
	StatusCompleted         TaskStatus = "completed"
	StatusFailed            TaskStatus = "failed"
	StatusCancelled         TaskStatus = "cancelled"
)

// NonTerminalStatuses lists the pipeline states in execution order.
var NonTerminalStatuses = []TaskStatus{
	StatusPending,
	StatusProcessing,
	StatusOutlining,
	StatusContentGeneration,
	StatusImageGeneration,
	StatusCompiling,
}

// ParseStatus rejects values outside the closed status set.
func ParseStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if _, err := st.rank(); err != nil {
		return "", err
	}
	return st, nil
}

// rank orders statuses along the pipeline. Terminal statuses rank after
// every non-terminal one.
func (s TaskStatus) rank() (int, error) {
	switch s {
	case StatusPending:
		return 0, nil
	case StatusProcessing:
		return 1, nil
	case StatusOutlining:
		return 2, nil
	case StatusContentGeneration:
		return 3, nil
	case StatusImageGeneration:
		return 4, nil
	case StatusCompiling:
		return 5, nil
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 6, nil
	}
	return 0, fmt.Errorf("unknown task status %q", string(s))
}

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a task in status from may move to status to.
// Non-terminal targets accept any non-terminal source of equal or lower rank,
// which lets a redelivered task rewrite the status it crashed in.
func CanTransition(from, to TaskStatus) bool {
	fromRank, err := from.rank()
	if err != nil || from.IsTerminal() {
		return false
	}
	toRank, err := to.rank()
	if err != nil {
		return false
	}

	switch to {
	case StatusFailed, StatusCancelled:
		return true
	case StatusCompleted:
		return from == StatusCompiling
	case StatusPending, StatusProcessing, StatusOutlining, StatusContentGeneration,
		StatusImageGeneration, StatusCompiling:
		return fromRank <= toRank
	}
	return false
}

// PriorStatuses returns every status from which to is reachable. It is the
// status set used for the conditional write of a transition.
func PriorStatuses(to TaskStatus) []TaskStatus {
	var prior []TaskStatus
	for _, from := range NonTerminalStatuses {
		if CanTransition(from, to) {
			prior = append(prior, from)
		}
	}
	return prior
}

type Stage string

const (
	StageOutline Stage = "outline"
	StageContent Stage = "content"
	StageImage   Stage = "image"
	StageNotes   Stage = "notes"
	StageCompile Stage = "compile"
)

// AllStages is the full pipeline order.
var AllStages = []Stage{StageOutline, StageContent, StageImage, StageNotes, StageCompile}

// Status returns the task status a stage runs under. Notes has no status of
// its own and runs while the task is compiling.
func (s Stage) Status() (TaskStatus, error) {
	switch s {
	case StageOutline:
		return StatusOutlining, nil
	case StageContent:
		return StatusContentGeneration, nil
	case StageImage:
		return StatusImageGeneration, nil
	case StageNotes, StageCompile:
		return StatusCompiling, nil
	}
	return "", fmt.Errorf("unknown stage %q", string(s))
}

func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, err := st.Status(); err != nil {
		return "", err
	}
	return st, nil
}
