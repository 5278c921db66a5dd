package models

import "time"

// DependencyType distinguishes how a dependency edge gates its successor.
type DependencyType string

const (
	// DependencyUnconditional gates on the predecessor reaching completed.
	DependencyUnconditional DependencyType = "unconditional"
	// DependencyConditional gates on a predicate over the predecessor's result.
	DependencyConditional DependencyType = "conditional"
)

// Valid returns true if the dependency type is a known value.
func (d DependencyType) Valid() bool {
	return d == DependencyUnconditional || d == DependencyConditional
}

// Dependency is a directed edge from one task to another, asserting a
// condition on the predecessor that gates the successor's eligibility.
type Dependency struct {
	// LineID is the unique identifier for this edge within its constellation.
	LineID string `json:"line_id"`
	// FromTaskID is the predecessor task.
	FromTaskID string `json:"from_task_id"`
	// ToTaskID is the successor task gated by this edge.
	ToTaskID string `json:"to_task_id"`
	// DependencyType selects unconditional or conditional gating.
	DependencyType DependencyType `json:"dependency_type"`
	// ConditionDescription is the opaque predicate text for conditional edges.
	ConditionDescription string `json:"condition_description,omitempty"`
	// IsSatisfied caches the most recent evaluation. Invalidated only by
	// changes to the from-task.
	IsSatisfied bool `json:"is_satisfied"`
	// LastEvaluationResult records the outcome of the last evaluation.
	LastEvaluationResult bool `json:"last_evaluation_result"`
	// LastEvaluationTime records when the edge was last evaluated.
	LastEvaluationTime *time.Time `json:"last_evaluation_time,omitempty"`
	// Metadata carries free-form annotations from the planner.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the edge was added.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the edge last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDependency creates an unconditional edge between two tasks.
func NewDependency(lineID, fromTaskID, toTaskID string) *Dependency {
	now := time.Now().UTC()
	return &Dependency{
		LineID:         lineID,
		FromTaskID:     fromTaskID,
		ToTaskID:       toTaskID,
		DependencyType: DependencyUnconditional,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy of the dependency.
func (d *Dependency) Clone() *Dependency {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.LastEvaluationTime != nil {
		t := *d.LastEvaluationTime
		c.LastEvaluationTime = &t
	}
	return &c
}
