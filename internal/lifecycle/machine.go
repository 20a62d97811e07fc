// Package lifecycle validates and applies Action and Problem status changes.
package lifecycle

import (
	"errors"
	"fmt"

	"shopfloor/internal/engine/auth"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError names the rejected move.
type InvalidTransitionError struct {
	Kind string
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Kind, e.From, e.To)
}

func (e InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Machine is a status graph with a permission requirement per edge.
type Machine[S ~string] struct {
	kind     string
	states   []S
	edges    map[S]map[S]struct{}
	requires func(from, to S) []auth.Permission
}

func newMachine[S ~string](kind string, states []S, edges map[S][]S, requires func(from, to S) []auth.Permission) Machine[S] {
	m := Machine[S]{kind: kind, states: states, edges: make(map[S]map[S]struct{}, len(edges)), requires: requires}
	for from, tos := range edges {
		set := make(map[S]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		m.edges[from] = set
	}
	return m
}

// completeGraph links every state to every other state.
func completeGraph[S ~string](states []S) map[S][]S {
	edges := make(map[S][]S, len(states))
	for _, from := range states {
		for _, to := range states {
			if from != to {
				edges[from] = append(edges[from], to)
			}
		}
	}
	return edges
}

func (m Machine[S]) Kind() string { return m.kind }

func (m Machine[S]) States() []S {
	return append([]S(nil), m.states...)
}

func (m Machine[S]) Valid(s S) bool {
	for _, st := range m.states {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition is true for any listed edge and for staying in a valid state.
func (m Machine[S]) CanTransition(from, to S) bool {
	if !m.Valid(from) || !m.Valid(to) {
		return false
	}
	if from == to {
		return true
	}
	_, ok := m.edges[from][to]
	return ok
}

// Required lists the permissions of which any one authorizes from -> to.
func (m Machine[S]) Required(from, to S) []auth.Permission {
	return m.requires(from, to)
}

// Check validates the move and then the caller's permission.
func (m Machine[S]) Check(matrix auth.Matrix, role auth.Role, from, to S) error {
	if !m.CanTransition(from, to) {
		return InvalidTransitionError{Kind: m.kind, From: string(from), To: string(to)}
	}
	return matrix.RequireAny(role, m.requires(from, to)...)
}
