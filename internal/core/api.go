package core

import "time"

// Request types

type ProposeChallengeRequest struct {
	ChallengerID string `json:"challengerId" validate:"required,min=1,max=64"`
	ChallengedID string `json:"challengedId" validate:"required,min=1,max=64"`
}

type AcceptChallengeRequest struct {
	ParticipantID string  `json:"participantId" validate:"required,min=1,max=64"`
	ChannelRef    *string `json:"channelRef,omitempty" validate:"omitempty,max=128"`
}

type CancelChallengeRequest struct {
	ParticipantID string `json:"participantId" validate:"required,min=1,max=64"`
}

type CreateMatchRequest struct {
	ParticipantID string  `json:"participantId" validate:"required,min=1,max=64"`
	Difficulty    string  `json:"difficulty,omitempty" validate:"omitempty,oneof=beginner intermediate advanced master"`
	ChannelRef    *string `json:"channelRef,omitempty" validate:"omitempty,max=128"`
}

type MoveRequest struct {
	ParticipantID string `json:"participantId" validate:"required,min=1,max=64"`
	Move          string `json:"move" validate:"required,min=2,max=10"` // SAN or UCI, pre-resolved by the caller
}

type ResignRequest struct {
	ParticipantID string `json:"participantId" validate:"required,min=1,max=64"`
}

// ReplyRequest asks for the automated opponent's move in the match the
// named human participant is in. Used to retry after a failed reply.
type ReplyRequest struct {
	ParticipantID string `json:"participantId" validate:"required,min=1,max=64"`
}

// Response types

type MatchResponse struct {
	ParticipantID string     `json:"participantId"`
	OpponentID    string     `json:"opponentId"`
	Color         string     `json:"color"` // "first" or "second"
	PositionKey   string     `json:"positionKey"`
	Difficulty    string     `json:"difficulty,omitempty"`
	Turn          string     `json:"turn"`
	InCheck       bool       `json:"inCheck"`
	GameOver      bool       `json:"gameOver"`
	LastMoveSAN   string     `json:"lastMoveSAN,omitempty"`
	LastMoveAt    *time.Time `json:"lastMoveAt,omitempty"`
}

type MoveInfo struct {
	SAN   string `json:"san"`
	UCI   string `json:"uci"`
	Color string `json:"color"`
}

type MoveResponse struct {
	Move        MoveInfo  `json:"move"`
	Reply       *MoveInfo `json:"reply,omitempty"` // automated reply, when one was played
	ReplyError  string    `json:"replyError,omitempty"`
	PositionKey string    `json:"positionKey"`
	Turn        string    `json:"turn,omitempty"`
	InCheck     bool      `json:"inCheck"`
	GameOver    bool      `json:"gameOver"`
	Reason      string    `json:"reason,omitempty"`
}

type BoardResponse struct {
	Board       string `json:"board"`
	Turn        string `json:"turn"`
	PositionKey string `json:"positionKey"`
}

type ChallengeResponse struct {
	ChallengerID string    `json:"challengerId"`
	ChallengedID string    `json:"challengedId"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ArchiveEntryResponse struct {
	MatchID       string    `json:"matchId"`
	FirstID       string    `json:"firstId"`
	SecondID      string    `json:"secondId"`
	WinnerID      string    `json:"winnerId,omitempty"`
	Reason        string    `json:"reason"`
	Difficulty    string    `json:"difficulty,omitempty"`
	FinalPosition string    `json:"finalPosition"`
	EndedAt       time.Time `json:"endedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Error codes carried in ErrorResponse.Code
const (
	CodeIllegalMove    = "ILLEGAL_MOVE"
	CodeNotYourTurn    = "NOT_YOUR_TURN"
	CodeNoActiveMatch  = "NO_ACTIVE_MATCH"
	CodeMatchExists    = "MATCH_ALREADY_EXISTS"
	CodeEngineDown     = "ENGINE_UNAVAILABLE"
	CodeEngineTimeout  = "ENGINE_TIMEOUT"
	CodeNoLegalMoves   = "NO_LEGAL_MOVES"
	CodeStorageFailure = "STORAGE_FAILURE"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidContent = "INVALID_CONTENT_TYPE"
	CodeChallengeBusy  = "CHALLENGE_PENDING"
	CodeNoChallenge    = "NO_PENDING_CHALLENGE"
	CodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	CodeInternalError  = "INTERNAL_ERROR"
)
