package core

import "fmt"

// Artifact is the immutable description of one defect under repair.
type Artifact struct {
	ProjectName string `json:"project_name"`
	BugID       string `json:"bug_id"`
	FilePath    string `json:"file_path"`
	MethodName  string `json:"method_name,omitempty"`
	BuggyLineNo int    `json:"buggy_line_no"` // 1-based
	SourceCode  string `json:"source_code"`
	Language    string `json:"language"`
}

// Identifier returns the unique bug identity, e.g. "Chart-3".
func (a *Artifact) Identifier() string {
	return fmt.Sprintf("%s-%s", a.ProjectName, a.BugID)
}

// DependencyContext holds the two dependency-slice renderings plus the
// skeletonized peripheral rendering of the buggy source file.
type DependencyContext struct {
	DataDependencySlice    string `json:"data_dependency_slice"`
	ControlDependencySlice string `json:"control_dependency_slice"`
	PeripheralContext      string `json:"peripheral_context"`
}

// Empty reports whether analysis produced no usable context.
func (c *DependencyContext) Empty() bool {
	return c.DataDependencySlice == "" && c.PeripheralContext == ""
}

// RepairSession pairs one artifact with its analysis context and accumulates
// feedback across failed rounds. One session per artifact; mutated only by
// the scheduler.
type RepairSession struct {
	Artifact        *Artifact          `json:"artifact"`
	Context         *DependencyContext `json:"context"`
	WorkspaceDir    string             `json:"workspace_dir"`
	FeedbackHistory []string           `json:"feedback_history,omitempty"`
}

// AddFeedback records the feedback string carried into the next round.
func (s *RepairSession) AddFeedback(fb string) {
	s.FeedbackHistory = append(s.FeedbackHistory, fb)
}
