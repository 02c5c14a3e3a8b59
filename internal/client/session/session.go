package session

import (
	"gambit/internal/client/api"
	"gambit/internal/core"
)

// Session carries the REPL state shared between the prompt builder and
// the command handlers.
type Session struct {
	APIBaseURL      string
	Client          *api.Client
	Verbose         bool
	ParticipantID   string
	LastPositionKey string
	CurrentMatch    *core.MatchResponse
}

func (s *Session) GetAPIBaseURL() string { return s.APIBaseURL }

func (s *Session) SetAPIBaseURL(u string) { s.APIBaseURL = u }

func (s *Session) GetParticipantID() string { return s.ParticipantID }

func (s *Session) SetParticipantID(id string) { s.ParticipantID = id }

func (s *Session) GetLastPositionKey() string { return s.LastPositionKey }

func (s *Session) SetLastPositionKey(k string) { s.LastPositionKey = k }

func (s *Session) GetClient() interface{} { return s.Client }

func (s *Session) IsVerbose() bool { return s.Verbose }

func (s *Session) SetMatchState(m *core.MatchResponse) { s.CurrentMatch = m }

func (s *Session) GetMatchState() *core.MatchResponse { return s.CurrentMatch }
