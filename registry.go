package automation

import (
	"sync"
)

// WorkflowDefinition declares a workflow: which event triggers it and
// which steps run, in order. Definitions are registered in code, not
// stored in the database; the database only records executions.
type WorkflowDefinition struct {
	Name         string   `json:"name"`
	TriggerEvent string   `json:"trigger_event"`
	Steps        []string `json:"steps"`
	Active       bool     `json:"active"`
}

// registry holds workflow definitions, step handlers, and task
// handlers. Trigger event names map to at most one workflow.
type registry struct {
	mu           sync.RWMutex
	workflows    map[string]WorkflowDefinition // by trigger event
	steps        map[string]StepHandler
	taskHandlers map[string]TaskHandler
}

func newRegistry() *registry {
	return &registry{
		workflows:    make(map[string]WorkflowDefinition),
		steps:        make(map[string]StepHandler),
		taskHandlers: make(map[string]TaskHandler),
	}
}

func (r *registry) registerWorkflow(def WorkflowDefinition) error {
	if def.Name == "" {
		return &InvalidWorkflowError{Name: def.Name, Reason: "name is required"}
	}
	if def.TriggerEvent == "" {
		return &InvalidWorkflowError{Name: def.Name, Reason: "trigger event is required"}
	}
	if len(def.Steps) == 0 {
		return &InvalidWorkflowError{Name: def.Name, Reason: "at least one step is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.workflows[def.TriggerEvent]; ok {
		return &WorkflowConflictError{TriggerEvent: def.TriggerEvent, Existing: existing.Name}
	}
	r.workflows[def.TriggerEvent] = def
	return nil
}

// workflowFor returns the active workflow for the event, if any.
func (r *registry) workflowFor(event string) (WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.workflows[event]
	if !ok || !def.Active {
		return WorkflowDefinition{}, false
	}
	return def, true
}

func (r *registry) listWorkflows() []WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkflowDefinition, 0, len(r.workflows))
	for _, def := range r.workflows {
		out = append(out, def)
	}
	return out
}

func (r *registry) registerStep(h StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[h.Name()] = h
}

func (r *registry) step(name string) (StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.steps[name]
	return h, ok
}

func (r *registry) registerTaskHandler(taskType string, h TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskHandlers[taskType] = h
}

func (r *registry) taskHandler(taskType string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.taskHandlers[taskType]
	return h, ok
}
