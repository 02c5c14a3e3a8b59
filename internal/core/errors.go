package core

import "errors"

// Error taxonomy surfaced by the orchestrator, store and engine bridge.
// Callers match with errors.Is; wrapping adds context, never replaces the kind.
var (
	ErrIllegalMove        = errors.New("illegal move")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrNoActiveMatch      = errors.New("no active match")
	ErrMatchAlreadyExists = errors.New("match already exists")
	ErrEngineUnavailable  = errors.New("engine unavailable")
	ErrEngineTimeout      = errors.New("engine timeout")
	ErrNoLegalMoves       = errors.New("no legal moves")
	ErrStorageIO          = errors.New("storage io failure")
)
