package archive

import "time"

// FinishedMatch is a row in the matches table. WinnerID is nil for
// stalemates and draws.
type FinishedMatch struct {
	ID            string    `db:"match_id"`
	FirstID       string    `db:"first_id"`
	SecondID      string    `db:"second_id"`
	WinnerID      *string   `db:"winner_id"`
	Reason        string    `db:"reason"`
	Difficulty    string    `db:"difficulty"`
	FinalPosition string    `db:"final_position"`
	EndedAt       time.Time `db:"ended_at"`
}

// Schema defines the SQLite database structure
const Schema = `
CREATE TABLE IF NOT EXISTS matches (
	match_id TEXT PRIMARY KEY,
	first_id TEXT NOT NULL,
	second_id TEXT NOT NULL,
	winner_id TEXT,
	reason TEXT NOT NULL CHECK(reason IN ('checkmate', 'stalemate', 'draw', 'resignation')),
	difficulty TEXT NOT NULL,
	final_position TEXT NOT NULL,
	ended_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_matches_first ON matches(first_id);
CREATE INDEX IF NOT EXISTS idx_matches_second ON matches(second_id);
CREATE INDEX IF NOT EXISTS idx_matches_ended_at ON matches(ended_at);
`
