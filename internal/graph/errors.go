package graph

import "errors"

// Structural errors. These are rejected pre-mutation and returned to the
// proposing actor as data; they never indicate a corrupted graph.
var (
	// ErrCycleDetected indicates an edge would create a circular dependency.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrTaskNotFound indicates a task id that is not in the graph.
	ErrTaskNotFound = errors.New("task not found")
	// ErrLineNotFound indicates a dependency line id that is not in the graph.
	ErrLineNotFound = errors.New("dependency not found")
	// ErrDuplicateTask indicates a task id that already exists.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrDuplicateLine indicates a dependency line id that already exists.
	ErrDuplicateLine = errors.New("duplicate dependency id")
	// ErrInvalidTask indicates a malformed task.
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidDependency indicates a malformed dependency.
	ErrInvalidDependency = errors.New("invalid dependency")
)

// IsStructural reports whether err belongs to the structural error taxonomy.
func IsStructural(err error) bool {
	return errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrDuplicateTask) ||
		errors.Is(err, ErrDuplicateLine) ||
		errors.Is(err, ErrInvalidTask) ||
		errors.Is(err, ErrInvalidDependency)
}
