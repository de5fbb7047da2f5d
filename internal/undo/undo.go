package undo

import "taskdeck/internal/model"

// Kind tags what a recorded action did.
type Kind string

const (
	KindDelete Kind = "delete"
)

// Action is one reversible step. Task is the full snapshot captured
// before the action applied; Index is where it sat in the store.
type Action struct {
	Kind  Kind
	Task  model.Task
	Index int
}

// Ledger keeps a linear past/future history of reversible actions.
// It is pure bookkeeping: Undo and Redo only move entries between the
// stacks and hand them back, the caller replays the state change.
type Ledger struct {
	past   []Action
	future []Action
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Add records a fresh action and invalidates the redo history, the
// usual linear-history rule.
func (l *Ledger) Add(a Action) {
	l.past = append(l.past, a)
	l.future = nil
}

// Undo pops the most recent action onto the future stack and returns
// it for the caller to reverse.
func (l *Ledger) Undo() (Action, bool) {
	if len(l.past) == 0 {
		return Action{}, false
	}
	a := l.past[len(l.past)-1]
	l.past = l.past[:len(l.past)-1]
	l.future = append(l.future, a)
	return a, true
}

// Redo pops the most recently undone action back onto the past stack
// and returns it for the caller to re-apply.
func (l *Ledger) Redo() (Action, bool) {
	if len(l.future) == 0 {
		return Action{}, false
	}
	a := l.future[len(l.future)-1]
	l.future = l.future[:len(l.future)-1]
	l.past = append(l.past, a)
	return a, true
}

// Drop discards the most recent past action without moving it to the
// future stack, used when a rolled-back delete must not stay undoable.
func (l *Ledger) Drop() {
	if len(l.past) > 0 {
		l.past = l.past[:len(l.past)-1]
	}
}

// Clear empties both stacks, e.g. on sign-out.
func (l *Ledger) Clear() {
	l.past = nil
	l.future = nil
}

func (l *Ledger) CanUndo() bool { return len(l.past) > 0 }

func (l *Ledger) CanRedo() bool { return len(l.future) > 0 }
