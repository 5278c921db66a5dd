package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConstellationState is the lifecycle state of a constellation.
type ConstellationState string

const (
	// StateCreated means the constellation exists but holds no tasks yet.
	StateCreated ConstellationState = "created"
	// StateReady means at least one task has been added.
	StateReady ConstellationState = "ready"
	// StateExecuting means at least one task has been dispatched.
	StateExecuting ConstellationState = "executing"
	// StateCompleted means every task reached a terminal status with no failures.
	StateCompleted ConstellationState = "completed"
	// StateFailed means the run was declared unrecoverable.
	StateFailed ConstellationState = "failed"
	// StatePartiallyFailed means all tasks are terminal but at least one failed.
	StatePartiallyFailed ConstellationState = "partially_failed"
)

// Valid returns true if the state is a known value.
func (s ConstellationState) Valid() bool {
	switch s {
	case StateCreated, StateReady, StateExecuting, StateCompleted,
		StateFailed, StatePartiallyFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state is a final lifecycle state. Note that
// completed is terminal for reporting purposes but may revert to executing
// if the planner adds tasks after the fact.
func (s ConstellationState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StatePartiallyFailed:
		return true
	default:
		return false
	}
}

// Constellation is the directed task graph for one decomposed user request,
// plus its lifecycle state. Tasks and dependencies are id-keyed; edges are
// the only place relationships are stored.
type Constellation struct {
	// ConstellationID uniquely identifies the constellation.
	ConstellationID string `json:"constellation_id"`
	// Name is a short label, typically derived from the user request.
	Name string `json:"name"`
	// State is the lifecycle state.
	State ConstellationState `json:"state"`
	// Tasks maps task id to task.
	Tasks map[string]*Task `json:"tasks"`
	// Dependencies maps line id to dependency edge.
	Dependencies map[string]*Dependency `json:"dependencies"`
	// Metadata carries free-form annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
	// LLMSource records which planner produced the decomposition.
	LLMSource string `json:"llm_source,omitempty"`
	// EnableVisualization toggles trajectory rendering at session end.
	EnableVisualization bool `json:"enable_visualization"`
	// CreatedAt is when the constellation was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the constellation last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// ExecutionStartTime is when the first task was dispatched.
	ExecutionStartTime *time.Time `json:"execution_start_time,omitempty"`
	// ExecutionEndTime is when the constellation reached a terminal state.
	ExecutionEndTime *time.Time `json:"execution_end_time,omitempty"`
}

// NewConstellation creates an empty constellation in the created state.
func NewConstellation(id, name string) *Constellation {
	now := time.Now().UTC()
	return &Constellation{
		ConstellationID: id,
		Name:            name,
		State:           StateCreated,
		Tasks:           make(map[string]*Task),
		Dependencies:    make(map[string]*Dependency),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ExecutionDuration returns how long execution ran, or zero if it has not
// both started and ended. Derived, never stored.
func (c *Constellation) ExecutionDuration() time.Duration {
	if c.ExecutionStartTime == nil || c.ExecutionEndTime == nil {
		return 0
	}
	return c.ExecutionEndTime.Sub(*c.ExecutionStartTime)
}

// constellationDoc is the persistence envelope. It mirrors Constellation but
// additionally carries the derived execution_duration (seconds) so archived
// documents are self-describing. The duration is recomputed on load.
type constellationDoc struct {
	Constellation
	ExecutionDurationSeconds float64 `json:"execution_duration"`
}

// MarshalJSONDoc serializes the constellation into its round-trippable
// persistence format.
func (c *Constellation) MarshalJSONDoc() ([]byte, error) {
	doc := constellationDoc{
		Constellation:            *c,
		ExecutionDurationSeconds: c.ExecutionDuration().Seconds(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal constellation %s: %w", c.ConstellationID, err)
	}
	return data, nil
}

// WriteFile persists the constellation to a file at path.
func (c *Constellation) WriteFile(path string) error {
	data, err := c.MarshalJSONDoc()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write constellation file: %w", err)
	}
	return nil
}

// ParseConstellation deserializes a constellation from its persistence
// format. Malformed or structurally invalid input fails the whole load;
// no partially constructed constellation is ever returned.
func ParseConstellation(data []byte) (*Constellation, error) {
	var doc constellationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse constellation: %w", err)
	}
	c := doc.Constellation
	if c.Tasks == nil {
		c.Tasks = make(map[string]*Task)
	}
	if c.Dependencies == nil {
		c.Dependencies = make(map[string]*Dependency)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("parse constellation: %w", err)
	}
	return &c, nil
}

// LoadConstellationFile loads a constellation from a file at path.
func LoadConstellationFile(path string) (*Constellation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read constellation file: %w", err)
	}
	return ParseConstellation(data)
}

// Validate checks structural integrity: non-empty id, known enum values,
// map keys matching embedded ids, and every edge endpoint referencing an
// existing task. Acyclicity is enforced by the graph layer at mutation time
// and re-checked when a loaded constellation is attached to a graph.
func (c *Constellation) Validate() error {
	if c.ConstellationID == "" {
		return fmt.Errorf("constellation id is required")
	}
	if !c.State.Valid() {
		return fmt.Errorf("unknown constellation state %q", c.State)
	}
	for id, task := range c.Tasks {
		if task == nil {
			return fmt.Errorf("task %s is null", id)
		}
		if task.TaskID != id {
			return fmt.Errorf("task key %s does not match task id %s", id, task.TaskID)
		}
		if !task.Status.Valid() {
			return fmt.Errorf("task %s has unknown status %q", id, task.Status)
		}
	}
	for id, dep := range c.Dependencies {
		if dep == nil {
			return fmt.Errorf("dependency %s is null", id)
		}
		if dep.LineID != id {
			return fmt.Errorf("dependency key %s does not match line id %s", id, dep.LineID)
		}
		if !dep.DependencyType.Valid() {
			return fmt.Errorf("dependency %s has unknown type %q", id, dep.DependencyType)
		}
		if _, ok := c.Tasks[dep.FromTaskID]; !ok {
			return fmt.Errorf("dependency %s references unknown from task %s", id, dep.FromTaskID)
		}
		if _, ok := c.Tasks[dep.ToTaskID]; !ok {
			return fmt.Errorf("dependency %s references unknown to task %s", id, dep.ToTaskID)
		}
	}
	return nil
}

// Clone returns a deep copy of the constellation. Used for snapshots handed
// to read-only observers so they never alias live graph state.
func (c *Constellation) Clone() *Constellation {
	cp := *c
	cp.Tasks = make(map[string]*Task, len(c.Tasks))
	for id, t := range c.Tasks {
		cp.Tasks[id] = t.Clone()
	}
	cp.Dependencies = make(map[string]*Dependency, len(c.Dependencies))
	for id, d := range c.Dependencies {
		cp.Dependencies[id] = d.Clone()
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	if c.ExecutionStartTime != nil {
		st := *c.ExecutionStartTime
		cp.ExecutionStartTime = &st
	}
	if c.ExecutionEndTime != nil {
		et := *c.ExecutionEndTime
		cp.ExecutionEndTime = &et
	}
	return &cp
}
