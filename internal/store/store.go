package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gambit/internal/core"
	"gambit/internal/validation"
)

// Store is the durable participant to match record mapping. A match is
// two mirror records, one per participant. Every mutation rewrites the
// whole file through a temp-file rename, so a crash mid-write never
// leaves a torn store behind.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]core.MatchRecord
	logger  zerolog.Logger
}

// Patch carries the fields Update may change. Nil fields are left
// untouched. PositionKey, LastMoveSAN and LastMoveAt are mirrored onto
// the opponent record; ChannelRef applies to the named record only.
type Patch struct {
	PositionKey *string
	LastMoveSAN *string
	LastMoveAt  *time.Time
	ChannelRef  *string
}

// New opens the store file at path, or starts empty when it does not
// exist yet. An unreadable or structurally invalid file is renamed
// aside and replaced with a fresh empty store.
func New(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]core.MatchRecord),
		logger:  logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read store file: %v", core.ErrStorageIO, err)
	}

	records := make(map[string]core.MatchRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return s.quarantine(fmt.Sprintf("parse store file: %v", err))
	}
	for id, rec := range records {
		rec.ParticipantID = id
		records[id] = rec
	}
	if reason := validateRecords(records); reason != "" {
		return s.quarantine(reason)
	}

	s.records = records
	return nil
}

// quarantine moves the corrupt file aside, reinitializes to an empty
// store and reports recovery as a warning rather than an error.
func (s *Store) quarantine(reason string) error {
	backup := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("%w: quarantine store file: %v", core.ErrStorageIO, err)
	}
	s.logger.Warn().
		Str("backup", backup).
		Str("reason", reason).
		Msg("store file corrupt, reinitialized empty")

	s.records = make(map[string]core.MatchRecord)
	return s.flush()
}

func validateRecords(records map[string]core.MatchRecord) string {
	for id, rec := range records {
		if !rec.Color.Valid() {
			return fmt.Sprintf("record %q: invalid color %q", id, rec.Color)
		}
		if !validation.SafePositionKey(rec.PositionKey) {
			return fmt.Sprintf("record %q: invalid position key", id)
		}
		if rec.Opponent == "" || rec.Opponent == id {
			return fmt.Sprintf("record %q: invalid opponent %q", id, rec.Opponent)
		}
		mirror, ok := records[rec.Opponent]
		if !ok {
			return fmt.Sprintf("record %q: no mirror record for opponent %q", id, rec.Opponent)
		}
		if mirror.Opponent != id {
			return fmt.Sprintf("record %q: opponent %q points back to %q", id, rec.Opponent, mirror.Opponent)
		}
		if mirror.Color == rec.Color {
			return fmt.Sprintf("records %q and %q share color %q", id, rec.Opponent, rec.Color)
		}
		if mirror.PositionKey != rec.PositionKey {
			return fmt.Sprintf("records %q and %q diverge on position key", id, rec.Opponent)
		}
	}
	return ""
}

// flush writes the whole store to a temp file in the target directory
// and renames it into place. Callers hold s.mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode store: %v", core.ErrStorageIO, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp store file: %v", core.ErrStorageIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp store file: %v", core.ErrStorageIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp store file: %v", core.ErrStorageIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp store file: %v", core.ErrStorageIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace store file: %v", core.ErrStorageIO, err)
	}
	return nil
}

// Get returns the match record for a participant.
func (s *Store) Get(participantID string) (core.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[participantID]
	if !ok {
		return core.MatchRecord{}, fmt.Errorf("%w: %s", core.ErrNoActiveMatch, participantID)
	}
	return rec, nil
}

// CreatePair creates the two mirror records for a new match. The first
// color goes to idA or idB by fair coin flip. Both records start at
// positionKey and carry the same difficulty and channel reference.
func (s *Store) CreatePair(idA, idB string, difficulty core.Difficulty, positionKey string, channelRef *string) (firstID, secondID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[idA]; ok {
		return "", "", fmt.Errorf("%w: %s", core.ErrMatchAlreadyExists, idA)
	}
	if _, ok := s.records[idB]; ok {
		return "", "", fmt.Errorf("%w: %s", core.ErrMatchAlreadyExists, idB)
	}

	firstID, secondID = idA, idB
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return "", "", fmt.Errorf("assign colors: %w", err)
	}
	if n.Int64() == 1 {
		firstID, secondID = idB, idA
	}

	s.records[firstID] = core.MatchRecord{
		ParticipantID: firstID,
		PositionKey:   positionKey,
		Color:         core.ColorFirst,
		Opponent:      secondID,
		ChannelRef:    cloneRef(channelRef),
		Difficulty:    difficulty,
	}
	s.records[secondID] = core.MatchRecord{
		ParticipantID: secondID,
		PositionKey:   positionKey,
		Color:         core.ColorSecond,
		Opponent:      firstID,
		ChannelRef:    cloneRef(channelRef),
		Difficulty:    difficulty,
	}

	if err := s.flush(); err != nil {
		delete(s.records, firstID)
		delete(s.records, secondID)
		return "", "", err
	}
	return firstID, secondID, nil
}

// Update applies a patch to a participant's record and mirrors the
// shared fields onto the opponent record in the same flush.
func (s *Store) Update(participantID string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNoActiveMatch, participantID)
	}
	mirror, ok := s.records[rec.Opponent]
	if !ok {
		return fmt.Errorf("store invariant violated: no mirror record for %q", participantID)
	}
	prev, prevMirror := rec, mirror

	if patch.PositionKey != nil {
		rec.PositionKey = *patch.PositionKey
		mirror.PositionKey = *patch.PositionKey
	}
	if patch.LastMoveSAN != nil {
		rec.LastMoveSAN = *patch.LastMoveSAN
		mirror.LastMoveSAN = *patch.LastMoveSAN
	}
	if patch.LastMoveAt != nil {
		rec.LastMoveAt = cloneTime(patch.LastMoveAt)
		mirror.LastMoveAt = cloneTime(patch.LastMoveAt)
	}
	if patch.ChannelRef != nil {
		rec.ChannelRef = cloneRef(patch.ChannelRef)
	}

	s.records[participantID] = rec
	s.records[rec.Opponent] = mirror

	if err := s.flush(); err != nil {
		s.records[participantID] = prev
		s.records[prev.Opponent] = prevMirror
		return err
	}
	return nil
}

// RemovePair deletes both mirror records of the participant's match.
func (s *Store) RemovePair(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNoActiveMatch, participantID)
	}
	mirror, hadMirror := s.records[rec.Opponent]

	delete(s.records, participantID)
	delete(s.records, rec.Opponent)

	if err := s.flush(); err != nil {
		s.records[participantID] = rec
		if hadMirror {
			s.records[rec.Opponent] = mirror
		}
		return err
	}
	return nil
}

// HasMatch reports whether either participant is already in a match,
// with each other or with anyone else.
func (s *Store) HasMatch(idA, idB string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, okA := s.records[idA]
	_, okB := s.records[idB]
	return okA || okB
}

// ActiveMatches returns the number of matches currently tracked.
func (s *Store) ActiveMatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records) / 2
}

func cloneRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := *ref
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
