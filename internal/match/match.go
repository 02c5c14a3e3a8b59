package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gambit/internal/archive"
	"gambit/internal/core"
	"gambit/internal/store"
)

// Rules is the slice of the rules adapter the orchestrator consumes.
type Rules interface {
	NewPosition(initial string) (string, error)
	ApplyMove(positionKey, moveText string) (string, core.Move, error)
	Status(positionKey string) (core.Status, error)
}

// Engine produces a move for the automated opponent.
type Engine interface {
	BestMove(ctx context.Context, positionKey string, difficulty core.Difficulty) (core.Move, error)
}

// Store is the durable match record mapping.
type Store interface {
	Get(participantID string) (core.MatchRecord, error)
	CreatePair(idA, idB string, difficulty core.Difficulty, positionKey string, channelRef *string) (string, string, error)
	Update(participantID string, patch store.Patch) error
	RemovePair(participantID string) error
	HasMatch(idA, idB string) bool
}

// Archiver receives finished matches. Optional.
type Archiver interface {
	RecordFinished(rec archive.FinishedMatch)
}

type Config struct {
	// AutomatedPrefix is the namespace reserved for engine-backed
	// participants. IDs equal to it or under "<prefix>:" are automated.
	AutomatedPrefix string
}

// Orchestrator is the match state machine. It owns no long-lived match
// state: every operation re-reads from the store, mutates and
// re-persists under the pair lock.
type Orchestrator struct {
	rules           Rules
	engine          Engine
	store           Store
	archiver        Archiver
	automatedPrefix string
	logger          zerolog.Logger
	locks           *pairLocks
	waiters         *waitHub
}

func New(cfg Config, rules Rules, engine Engine, st Store, archiver Archiver, logger zerolog.Logger) *Orchestrator {
	prefix := cfg.AutomatedPrefix
	if prefix == "" {
		prefix = "engine"
	}
	return &Orchestrator{
		rules:           rules,
		engine:          engine,
		store:           st,
		archiver:        archiver,
		automatedPrefix: prefix,
		logger:          logger,
		locks:           newPairLocks(),
		waiters:         newWaitHub(),
	}
}

// IsAutomated reports whether the participant ID belongs to the
// engine-backed namespace.
func (o *Orchestrator) IsAutomated(participantID string) bool {
	return participantID == o.automatedPrefix ||
		strings.HasPrefix(participantID, o.automatedPrefix+":")
}

// AutomatedOpponentFor names the engine participant paired with the
// given human. One automated participant per match keeps the
// one-match-per-participant invariant while engine matches run
// concurrently.
func (o *Orchestrator) AutomatedOpponentFor(humanID string) string {
	return o.automatedPrefix + ":" + humanID
}

// CreateResult describes a freshly created match.
type CreateResult struct {
	FirstID     string
	SecondID    string
	PositionKey string
	Difficulty  core.Difficulty
	// Opening is the automated opponent's first move, set when the
	// engine drew the first color.
	Opening *core.Move
}

// MoveResult describes one applied ply.
type MoveResult struct {
	Move                core.Move
	PositionKey         string
	Status              core.Status
	Over                bool
	Reason              core.OverReason
	Opponent            string
	OpponentIsAutomated bool
}

// CreateMatch pairs two participants into a new match. Colors are
// assigned at random; when the automated opponent draws the first move
// it is played before this returns, and a failure to produce it rolls
// the match back entirely.
func (o *Orchestrator) CreateMatch(ctx context.Context, idA, idB string, difficulty core.Difficulty, channelRef *string) (CreateResult, error) {
	if idA == idB {
		return CreateResult{}, fmt.Errorf("cannot match participant %q against itself", idA)
	}
	if !difficulty.Valid() {
		return CreateResult{}, fmt.Errorf("unknown difficulty %q", difficulty)
	}

	unlock := o.locks.lock(pairKey(idA, idB))
	defer unlock()

	if o.store.HasMatch(idA, idB) {
		return CreateResult{}, fmt.Errorf("%w: %s or %s", core.ErrMatchAlreadyExists, idA, idB)
	}

	positionKey, err := o.rules.NewPosition("")
	if err != nil {
		return CreateResult{}, fmt.Errorf("initial position: %w", err)
	}

	firstID, secondID, err := o.store.CreatePair(idA, idB, difficulty, positionKey, channelRef)
	if err != nil {
		return CreateResult{}, err
	}

	res := CreateResult{
		FirstID:     firstID,
		SecondID:    secondID,
		PositionKey: positionKey,
		Difficulty:  difficulty,
	}

	if o.IsAutomated(firstID) {
		rec, err := o.store.Get(firstID)
		if err != nil {
			return CreateResult{}, err
		}
		moveRes, err := o.automatedMoveLocked(ctx, rec)
		if err != nil {
			if rmErr := o.store.RemovePair(firstID); rmErr != nil {
				o.logger.Error().Err(rmErr).Str("participant", firstID).Msg("rollback of half-created match failed")
			}
			return CreateResult{}, fmt.Errorf("automated opening move: %w", err)
		}
		res.Opening = &moveRes.Move
		res.PositionKey = moveRes.PositionKey
	}

	o.logger.Info().
		Str("first", firstID).
		Str("second", secondID).
		Str("difficulty", string(difficulty)).
		Msg("match created")
	return res, nil
}

// ApplyMove validates and applies one ply for the participant. The
// position is untouched on any failure.
func (o *Orchestrator) ApplyMove(participantID, moveText string) (MoveResult, error) {
	unlock, rec, err := o.lockFor(participantID)
	if err != nil {
		return MoveResult{}, err
	}
	defer unlock()

	return o.applyLocked(rec, moveText)
}

// ApplyAutomatedMove asks the engine for the automated opponent's move
// and applies it. participantID must be the automated participant and
// it must be their turn. Engine failures are surfaced and leave the
// position unchanged.
func (o *Orchestrator) ApplyAutomatedMove(ctx context.Context, participantID string) (MoveResult, error) {
	unlock, rec, err := o.lockFor(participantID)
	if err != nil {
		return MoveResult{}, err
	}
	defer unlock()

	return o.automatedMoveLocked(ctx, rec)
}

func (o *Orchestrator) automatedMoveLocked(ctx context.Context, rec core.MatchRecord) (MoveResult, error) {
	if !o.IsAutomated(rec.ParticipantID) {
		return MoveResult{}, fmt.Errorf("participant %q is not the automated opponent", rec.ParticipantID)
	}

	status, err := o.rules.Status(rec.PositionKey)
	if err != nil {
		return MoveResult{}, fmt.Errorf("read position status: %w", err)
	}
	if status.Turn != rec.Color {
		return MoveResult{}, fmt.Errorf("%w: %s", core.ErrNotYourTurn, rec.ParticipantID)
	}

	mv, err := o.engine.BestMove(ctx, rec.PositionKey, rec.Difficulty)
	if err != nil {
		return MoveResult{}, err
	}

	return o.applyLocked(rec, mv.UCI())
}

// applyLocked is the shared apply path for human and automated moves.
// Callers hold the pair lock.
func (o *Orchestrator) applyLocked(rec core.MatchRecord, moveText string) (MoveResult, error) {
	status, err := o.rules.Status(rec.PositionKey)
	if err != nil {
		return MoveResult{}, fmt.Errorf("read position status: %w", err)
	}
	if status.Turn != rec.Color {
		return MoveResult{}, fmt.Errorf("%w: %s", core.ErrNotYourTurn, rec.ParticipantID)
	}

	newKey, mv, err := o.rules.ApplyMove(rec.PositionKey, moveText)
	if err != nil {
		return MoveResult{}, err
	}
	newStatus, err := o.rules.Status(newKey)
	if err != nil {
		return MoveResult{}, fmt.Errorf("read position status: %w", err)
	}

	now := time.Now().UTC()
	patch := store.Patch{PositionKey: &newKey, LastMoveSAN: &mv.SAN, LastMoveAt: &now}
	if err := o.store.Update(rec.ParticipantID, patch); err != nil {
		return MoveResult{}, err
	}

	res := MoveResult{
		Move:                mv,
		PositionKey:         newKey,
		Status:              newStatus,
		Opponent:            rec.Opponent,
		OpponentIsAutomated: o.IsAutomated(rec.Opponent),
	}

	if newStatus.IsGameOver {
		res.Over = true
		res.Reason = newStatus.OverReason()
		if err := o.finishLocked(rec, newKey, res.Reason); err != nil {
			return MoveResult{}, err
		}
	}

	o.logger.Debug().
		Str("participant", rec.ParticipantID).
		Str("move", mv.UCI()).
		Bool("over", res.Over).
		Msg("move applied")
	o.waiters.notify(pairKey(rec.ParticipantID, rec.Opponent))
	return res, nil
}

// finishLocked removes the pair and hands the result to the archiver.
// The mover won unless the game ended in stalemate or a draw.
func (o *Orchestrator) finishLocked(mover core.MatchRecord, finalKey string, reason core.OverReason) error {
	if err := o.store.RemovePair(mover.ParticipantID); err != nil {
		return err
	}
	o.archiveFinished(mover, finalKey, reason, winnerFor(reason, mover.ParticipantID))
	o.logger.Info().
		Str("participant", mover.ParticipantID).
		Str("opponent", mover.Opponent).
		Str("reason", string(reason)).
		Msg("match over")
	return nil
}

func winnerFor(reason core.OverReason, moverID string) *string {
	if reason == core.ReasonCheckmate {
		return &moverID
	}
	return nil
}

func (o *Orchestrator) archiveFinished(rec core.MatchRecord, finalKey string, reason core.OverReason, winnerID *string) {
	if o.archiver == nil {
		return
	}
	firstID, secondID := rec.ParticipantID, rec.Opponent
	if rec.Color == core.ColorSecond {
		firstID, secondID = secondID, firstID
	}
	o.archiver.RecordFinished(archive.FinishedMatch{
		FirstID:       firstID,
		SecondID:      secondID,
		WinnerID:      winnerID,
		Reason:        string(reason),
		Difficulty:    string(rec.Difficulty),
		FinalPosition: finalKey,
		EndedAt:       time.Now().UTC(),
	})
}

// Resign ends the participant's match. Calling it again once the match
// is gone fails with NoActiveMatch.
func (o *Orchestrator) Resign(participantID string) (core.MatchRecord, error) {
	unlock, rec, err := o.lockFor(participantID)
	if err != nil {
		return core.MatchRecord{}, err
	}
	defer unlock()

	if err := o.store.RemovePair(participantID); err != nil {
		return core.MatchRecord{}, err
	}
	opponent := rec.Opponent
	o.archiveFinished(rec, rec.PositionKey, core.ReasonResignation, &opponent)

	o.logger.Info().
		Str("participant", participantID).
		Str("opponent", rec.Opponent).
		Msg("match resigned")
	o.waiters.notify(pairKey(participantID, rec.Opponent))
	return rec, nil
}

// Turn reports whose color is to move in the participant's match.
func (o *Orchestrator) Turn(participantID string) (core.Color, error) {
	rec, err := o.store.Get(participantID)
	if err != nil {
		return "", err
	}
	status, err := o.rules.Status(rec.PositionKey)
	if err != nil {
		return "", fmt.Errorf("read position status: %w", err)
	}
	return status.Turn, nil
}

// Match returns the participant's record and the rules verdict on its
// position.
func (o *Orchestrator) Match(participantID string) (core.MatchRecord, core.Status, error) {
	rec, err := o.store.Get(participantID)
	if err != nil {
		return core.MatchRecord{}, core.Status{}, err
	}
	status, err := o.rules.Status(rec.PositionKey)
	if err != nil {
		return core.MatchRecord{}, core.Status{}, fmt.Errorf("read position status: %w", err)
	}
	return rec, status, nil
}

// waitTimeout caps one long-poll round. It must stay under the HTTP
// write timeout so a quiet match still gets a response.
const waitTimeout = 25 * time.Second

// WaitForChange blocks until the participant's position differs from
// sinceKey, the match ends, the context is done, or the poll interval
// elapses. It returns the freshest view it has; a gone match surfaces
// as NoActiveMatch, which is the end-of-match signal for pollers.
func (o *Orchestrator) WaitForChange(ctx context.Context, participantID, sinceKey string) (core.MatchRecord, core.Status, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		rec, status, err := o.Match(participantID)
		if err != nil || rec.PositionKey != sinceKey {
			return rec, status, err
		}

		key := pairKey(rec.ParticipantID, rec.Opponent)
		req := o.waiters.add(key)

		// The position may have moved between the read and the
		// registration; a second read closes that window.
		rec, status, err = o.Match(participantID)
		if err != nil || rec.PositionKey != sinceKey {
			o.waiters.drop(key, req)
			return rec, status, err
		}

		select {
		case <-req.notify:
		case <-time.After(time.Until(deadline)):
			o.waiters.drop(key, req)
			return rec, status, nil
		case <-ctx.Done():
			o.waiters.drop(key, req)
			return rec, status, ctx.Err()
		}
	}
}

// lockFor acquires the pair lock for the participant's current match
// and returns the record re-read under the lock. The read-lock-reread
// loop covers the window where the match changes between the first
// read and the lock.
func (o *Orchestrator) lockFor(participantID string) (func(), core.MatchRecord, error) {
	for {
		rec, err := o.store.Get(participantID)
		if err != nil {
			return nil, core.MatchRecord{}, err
		}
		key := pairKey(participantID, rec.Opponent)
		unlock := o.locks.lock(key)

		cur, err := o.store.Get(participantID)
		if err != nil {
			unlock()
			return nil, core.MatchRecord{}, err
		}
		if pairKey(participantID, cur.Opponent) == key {
			return unlock, cur, nil
		}
		unlock()
	}
}
