// Package pipeline drives a project import through its ordered stages on
// the background-job substrate. Stages hand off through the advance-stage
// barrier, which waits for a stage's fan-out jobs without holding a worker
// thread.
package pipeline

// Stage names. FinishStage is the distinguished terminal stage.
const (
	StageWiki         = "wiki"
	StageIssues       = "issues"
	StagePullRequests = "pull_requests"
	FinishStage       = "finish"
)

// StageTable is the static ordered mapping of stage names, fixed at
// process start. The last stage must be the terminal one.
type StageTable struct {
	order []string
	index map[string]int
}

// NewStageTable builds a table from stage names in execution order.
func NewStageTable(stages ...string) *StageTable {
	index := make(map[string]int, len(stages))
	for i, name := range stages {
		index[name] = i
	}
	return &StageTable{order: stages, index: index}
}

// DefaultStageTable returns the import order: wiki, issues, pull
// requests, finish.
func DefaultStageTable() *StageTable {
	return NewStageTable(StageWiki, StageIssues, StagePullRequests, FinishStage)
}

// First returns the entry stage.
func (t *StageTable) First() string {
	if len(t.order) == 0 {
		return ""
	}
	return t.order[0]
}

// Contains reports whether the named stage exists.
func (t *StageTable) Contains(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Next returns the stage after name, or "" when name is terminal or
// unknown.
func (t *StageTable) Next(name string) string {
	i, ok := t.index[name]
	if !ok || i+1 >= len(t.order) {
		return ""
	}
	return t.order[i+1]
}

// Terminal reports whether name is the distinguished finish stage.
func (t *StageTable) Terminal(name string) bool {
	return len(t.order) > 0 && t.order[len(t.order)-1] == name
}

// Order returns the stage names in execution order.
func (t *StageTable) Order() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
