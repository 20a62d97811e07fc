package lifecycle

import (
	"time"

	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
)

var actionStates = []domain.ActionStatus{domain.ActionTodo, domain.ActionInProgress, domain.ActionDone}

var problemStates = []domain.ProblemStatus{domain.ProblemOpen, domain.ProblemInProgress, domain.ProblemResolved}

// Moves between todo and done are checkbox toggles; complete_actions is enough for them.
func actionRequirement(from, to domain.ActionStatus) []auth.Permission {
	if isToggleState(from) && isToggleState(to) {
		return []auth.Permission{auth.CompleteActions, auth.EditActions}
	}
	return []auth.Permission{auth.EditActions}
}

func isToggleState(s domain.ActionStatus) bool {
	return s == domain.ActionTodo || s == domain.ActionDone
}

func problemRequirement(_, _ domain.ProblemStatus) []auth.Permission {
	return []auth.Permission{auth.EditProblems}
}

func Actions() Machine[domain.ActionStatus] {
	return newMachine("action", actionStates, completeGraph(actionStates), actionRequirement)
}

func Problems() Machine[domain.ProblemStatus] {
	return newMachine("problem", problemStates, completeGraph(problemStates), problemRequirement)
}

// Lifecycle applies status changes to entity values. Inputs are never mutated.
type Lifecycle struct {
	Matrix   auth.Matrix
	Now      func() time.Time
	actions  Machine[domain.ActionStatus]
	problems Machine[domain.ProblemStatus]
}

func New(matrix auth.Matrix) Lifecycle {
	return Lifecycle{Matrix: matrix, Now: time.Now, actions: Actions(), problems: Problems()}
}

func (l Lifecycle) now() string {
	if l.Now != nil {
		return l.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (l Lifecycle) actionMachine() Machine[domain.ActionStatus] {
	if l.actions.states == nil {
		return Actions()
	}
	return l.actions
}

func (l Lifecycle) problemMachine() Machine[domain.ProblemStatus] {
	if l.problems.states == nil {
		return Problems()
	}
	return l.problems
}

// TransitionAction moves a to status to. completedAt is set on entering done
// and cleared on leaving it. Staying in the same status is a no-op.
func (l Lifecycle) TransitionAction(a domain.Action, to domain.ActionStatus, role auth.Role) (domain.Action, error) {
	if err := l.actionMachine().Check(l.Matrix, role, a.Status, to); err != nil {
		return a, err
	}
	if a.Status == to {
		return a, nil
	}
	now := l.now()
	a.Status = to
	a.UpdatedAt = now
	if to == domain.ActionDone {
		a.CompletedAt = &now
	} else {
		a.CompletedAt = nil
	}
	return a, nil
}

// ToggleAction flips a between done and todo.
func (l Lifecycle) ToggleAction(a domain.Action, role auth.Role) (domain.Action, error) {
	to := domain.ActionDone
	if a.Status == domain.ActionDone {
		to = domain.ActionTodo
	}
	return l.TransitionAction(a, to, role)
}

// TransitionProblem moves p to status to, maintaining resolvedAt.
func (l Lifecycle) TransitionProblem(p domain.Problem, to domain.ProblemStatus, role auth.Role) (domain.Problem, error) {
	if err := l.problemMachine().Check(l.Matrix, role, p.Status, to); err != nil {
		return p, err
	}
	if p.Status == to {
		return p, nil
	}
	now := l.now()
	p.Status = to
	p.UpdatedAt = now
	if to == domain.ProblemResolved {
		p.ResolvedAt = &now
	} else {
		p.ResolvedAt = nil
	}
	return p, nil
}

// Escalate flags p as escalated. It is one-way: repeating it changes nothing
// and there is no way back.
func (l Lifecycle) Escalate(p domain.Problem, role auth.Role) (domain.Problem, error) {
	if err := l.Matrix.Require(role, auth.EscalateProblems); err != nil {
		return p, err
	}
	if p.Escalated {
		return p, nil
	}
	now := l.now()
	p.Escalated = true
	p.EscalatedAt = &now
	p.UpdatedAt = now
	return p, nil
}
