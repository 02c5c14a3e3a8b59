package validation

import (
	"regexp"
	"unicode"
)

// Position keys are FEN strings.
var positionKeyPattern = regexp.MustCompile(`^[rnbqkpRNBQKP1-8/]+ [wb] [KQkq-]+ [a-h1-8-]+ \d+ \d+$`)

// Move text may be standard algebraic ("Nf3", "exd5", "O-O", "e8=Q") or
// coordinate notation ("e2e4", "a7a8q").
var movePattern = regexp.MustCompile(`^[a-h1-8qrnxNBRQKO=+#-]{2,10}$`)

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)

// SafePositionKey checks for control characters that could inject
// protocol commands and matches the FEN shape before a position
// reaches a subprocess.
func SafePositionKey(key string) bool {
	for _, r := range key {
		if unicode.IsControl(r) {
			return false
		}
	}
	return positionKeyPattern.MatchString(key)
}

// SafeMoveText bounds and charset-checks move input. The rules library
// decides legality; this only keeps junk off the wire.
func SafeMoveText(move string) bool {
	for _, r := range move {
		if unicode.IsControl(r) || r == ' ' {
			return false
		}
	}
	return movePattern.MatchString(move)
}

// SafeParticipantID accepts the opaque identifiers the chat layer hands us.
func SafeParticipantID(id string) bool {
	return participantIDPattern.MatchString(id)
}
