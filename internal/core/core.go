package core

import "time"

// Color identifies which side of a match a participant plays.
// "first" moves first (White on the board), "second" replies.
type Color string

const (
	ColorFirst  Color = "first"
	ColorSecond Color = "second"
)

func OppositeColor(c Color) Color {
	if c == ColorFirst {
		return ColorSecond
	}
	return ColorFirst
}

func (c Color) Valid() bool {
	return c == ColorFirst || c == ColorSecond
}

// Difficulty is a named strength tier for the automated opponent.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyMaster       Difficulty = "master"
)

// DifficultyParams is the concrete search configuration behind a tier.
type DifficultyParams struct {
	SearchDepth          int
	ThinkTimeMs          int
	SkillLevel           int     // 0-20
	RandomizeProbability float64 // chance to substitute a uniform random legal move
}

// Params maps a tier to its search configuration. Unknown tiers get the
// intermediate settings.
func (d Difficulty) Params() DifficultyParams {
	switch d {
	case DifficultyBeginner:
		return DifficultyParams{SearchDepth: 1, ThinkTimeMs: 300, SkillLevel: 0, RandomizeProbability: 0.5}
	case DifficultyAdvanced:
		return DifficultyParams{SearchDepth: 10, ThinkTimeMs: 1000, SkillLevel: 10, RandomizeProbability: 0.1}
	case DifficultyMaster:
		return DifficultyParams{SearchDepth: 18, ThinkTimeMs: 2000, SkillLevel: 20, RandomizeProbability: 0}
	default:
		return DifficultyParams{SearchDepth: 5, ThinkTimeMs: 500, SkillLevel: 5, RandomizeProbability: 0.25}
	}
}

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyMaster:
		return true
	}
	return false
}

// MatchRecord is one participant's view of a match. Every match is stored
// as a mirror pair: A's record names B as opponent and vice versa, and both
// carry the same positionKey after any mutation. The participant ID is the
// map key in the persisted store, not part of the serialized record.
type MatchRecord struct {
	ParticipantID string     `json:"-"`
	PositionKey   string     `json:"positionKey"`
	Color         Color      `json:"color"`
	Opponent      string     `json:"opponent"`
	ChannelRef    *string    `json:"channelRef"`
	Difficulty    Difficulty `json:"difficulty"`
	LastMoveAt    *time.Time `json:"lastMoveAt,omitempty"`
	LastMoveSAN   string     `json:"lastMoveSAN,omitempty"`
}

// ChallengeRecord is a pending invitation pairing two participants.
type ChallengeRecord struct {
	ChallengerID string
	ChallengedID string
	CreatedAt    time.Time
}

// Move is one resolved ply: coordinates plus the SAN rendering when known.
type Move struct {
	From      string
	To        string
	Promotion string // "q", "r", "b", "n" or empty
	SAN       string
}

// UCI returns the move in coordinate notation, e.g. "e2e4" or "e7e8q".
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// Status is the rules verdict on a position.
type Status struct {
	Turn        Color
	InCheck     bool
	IsCheckmate bool
	IsStalemate bool
	IsDraw      bool
	IsGameOver  bool
}

// OverReason names why a match ended.
type OverReason string

const (
	ReasonCheckmate   OverReason = "checkmate"
	ReasonStalemate   OverReason = "stalemate"
	ReasonDraw        OverReason = "draw"
	ReasonResignation OverReason = "resignation"
)

// OverReason derives the terminal reason from the status flags. Only
// meaningful when IsGameOver is set.
func (s Status) OverReason() OverReason {
	switch {
	case s.IsCheckmate:
		return ReasonCheckmate
	case s.IsStalemate:
		return ReasonStalemate
	default:
		return ReasonDraw
	}
}
