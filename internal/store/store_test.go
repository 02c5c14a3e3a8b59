package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gambit/internal/core"
)

const startKey = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matches.json")
	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, path
}

func TestCreatePairMirrors(t *testing.T) {
	s, _ := newTestStore(t)

	firstID, secondID, err := s.CreatePair("alice", "bob", core.DifficultyIntermediate, startKey, nil)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}
	if !(firstID == "alice" && secondID == "bob") && !(firstID == "bob" && secondID == "alice") {
		t.Fatalf("ids = %q, %q", firstID, secondID)
	}

	first, err := s.Get(firstID)
	if err != nil {
		t.Fatalf("Get(first): %v", err)
	}
	second, err := s.Get(secondID)
	if err != nil {
		t.Fatalf("Get(second): %v", err)
	}

	if first.Color != core.ColorFirst || second.Color != core.ColorSecond {
		t.Errorf("colors = %q, %q", first.Color, second.Color)
	}
	if first.Opponent != secondID || second.Opponent != firstID {
		t.Errorf("opponents = %q, %q", first.Opponent, second.Opponent)
	}
	if first.PositionKey != startKey || second.PositionKey != startKey {
		t.Errorf("position keys diverge: %q vs %q", first.PositionKey, second.PositionKey)
	}
	if first.Difficulty != core.DifficultyIntermediate {
		t.Errorf("difficulty = %q", first.Difficulty)
	}
	if s.ActiveMatches() != 1 {
		t.Errorf("ActiveMatches = %d, want 1", s.ActiveMatches())
	}
}

func TestCreatePairRejectsBusyParticipant(t *testing.T) {
	s, _ := newTestStore(t)

	if _, _, err := s.CreatePair("alice", "bob", core.DifficultyBeginner, startKey, nil); err != nil {
		t.Fatalf("CreatePair: %v", err)
	}
	if _, _, err := s.CreatePair("alice", "carol", core.DifficultyBeginner, startKey, nil); !errors.Is(err, core.ErrMatchAlreadyExists) {
		t.Errorf("second CreatePair err = %v, want ErrMatchAlreadyExists", err)
	}
	if _, _, err := s.CreatePair("carol", "bob", core.DifficultyBeginner, startKey, nil); !errors.Is(err, core.ErrMatchAlreadyExists) {
		t.Errorf("third CreatePair err = %v, want ErrMatchAlreadyExists", err)
	}
}

func TestGetAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get("nobody"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("Get err = %v, want ErrNoActiveMatch", err)
	}
}

func TestUpdateMirrorsSharedFields(t *testing.T) {
	s, _ := newTestStore(t)
	firstID, secondID, err := s.CreatePair("alice", "bob", core.DifficultyAdvanced, startKey, nil)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}

	newKey := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	san := "e4"
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ref := "channel-42"
	err = s.Update(firstID, Patch{
		PositionKey: &newKey,
		LastMoveSAN: &san,
		LastMoveAt:  &at,
		ChannelRef:  &ref,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	first, _ := s.Get(firstID)
	second, _ := s.Get(secondID)

	if first.PositionKey != newKey || second.PositionKey != newKey {
		t.Errorf("position keys = %q, %q, want mirrored %q", first.PositionKey, second.PositionKey, newKey)
	}
	if first.LastMoveSAN != "e4" || second.LastMoveSAN != "e4" {
		t.Errorf("lastMoveSAN = %q, %q", first.LastMoveSAN, second.LastMoveSAN)
	}
	if first.LastMoveAt == nil || second.LastMoveAt == nil || !first.LastMoveAt.Equal(at) || !second.LastMoveAt.Equal(at) {
		t.Errorf("lastMoveAt = %v, %v", first.LastMoveAt, second.LastMoveAt)
	}
	if first.ChannelRef == nil || *first.ChannelRef != "channel-42" {
		t.Errorf("first channelRef = %v", first.ChannelRef)
	}
	if second.ChannelRef != nil {
		t.Errorf("second channelRef = %v, want nil", second.ChannelRef)
	}
}

func TestUpdateAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	key := startKey
	if err := s.Update("nobody", Patch{PositionKey: &key}); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("Update err = %v, want ErrNoActiveMatch", err)
	}
}

func TestRemovePair(t *testing.T) {
	s, _ := newTestStore(t)
	if _, _, err := s.CreatePair("alice", "bob", core.DifficultyMaster, startKey, nil); err != nil {
		t.Fatalf("CreatePair: %v", err)
	}

	if err := s.RemovePair("alice"); err != nil {
		t.Fatalf("RemovePair: %v", err)
	}
	if _, err := s.Get("alice"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("Get(alice) err = %v, want ErrNoActiveMatch", err)
	}
	if _, err := s.Get("bob"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("Get(bob) err = %v, want ErrNoActiveMatch", err)
	}
	if err := s.RemovePair("alice"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("second RemovePair err = %v, want ErrNoActiveMatch", err)
	}
}

func TestHasMatch(t *testing.T) {
	s, _ := newTestStore(t)
	if s.HasMatch("alice", "bob") {
		t.Error("HasMatch on empty store")
	}
	if _, _, err := s.CreatePair("alice", "bob", core.DifficultyBeginner, startKey, nil); err != nil {
		t.Fatalf("CreatePair: %v", err)
	}
	if !s.HasMatch("alice", "bob") {
		t.Error("HasMatch(alice, bob) = false")
	}
	if !s.HasMatch("alice", "carol") {
		t.Error("HasMatch(alice, carol) = false, alice is busy")
	}
	if s.HasMatch("carol", "dave") {
		t.Error("HasMatch(carol, dave) = true")
	}
}

func TestReloadRoundTrip(t *testing.T) {
	s, path := newTestStore(t)
	ref := "thread-7"
	firstID, secondID, err := s.CreatePair("alice", "bob", core.DifficultyMaster, startKey, &ref)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}
	newKey := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	san := "e4"
	if err := s.Update(firstID, Patch{PositionKey: &newKey, LastMoveSAN: &san}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, id := range []string{firstID, secondID} {
		want, _ := s.Get(id)
		got, err := reloaded.Get(id)
		if err != nil {
			t.Fatalf("reloaded Get(%s): %v", id, err)
		}
		if got.PositionKey != want.PositionKey || got.Color != want.Color || got.Opponent != want.Opponent {
			t.Errorf("reloaded record %s = %+v, want %+v", id, got, want)
		}
		if got.LastMoveSAN != want.LastMoveSAN || got.Difficulty != want.Difficulty {
			t.Errorf("reloaded record %s = %+v, want %+v", id, got, want)
		}
	}
}

func TestPersistedShape(t *testing.T) {
	s, path := newTestStore(t)
	ref := "channel-9"
	firstID, _, err := s.CreatePair("alice", "bob", core.DifficultyIntermediate, startKey, &ref)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	entry, ok := raw[firstID]
	if !ok {
		t.Fatalf("no entry for %q in %v", firstID, raw)
	}
	if entry["positionKey"] != startKey {
		t.Errorf("positionKey = %v", entry["positionKey"])
	}
	if entry["color"] != "first" {
		t.Errorf("color = %v", entry["color"])
	}
	if entry["opponent"] == "" || entry["opponent"] == nil {
		t.Errorf("opponent = %v", entry["opponent"])
	}
	if entry["channelRef"] != "channel-9" {
		t.Errorf("channelRef = %v", entry["channelRef"])
	}
	if entry["difficulty"] != "intermediate" {
		t.Errorf("difficulty = %v", entry["difficulty"])
	}
}

func TestNullChannelRefPersisted(t *testing.T) {
	s, path := newTestStore(t)
	firstID, _, err := s.CreatePair("alice", "bob", core.DifficultyIntermediate, startKey, nil)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, ok := raw[firstID]["channelRef"]
	if !ok {
		t.Fatal("channelRef key absent, want explicit null")
	}
	if string(got) != "null" {
		t.Errorf("channelRef = %s, want null", got)
	}
}

func TestCorruptFileQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matches.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New on corrupt file: %v", err)
	}
	if s.ActiveMatches() != 0 {
		t.Errorf("ActiveMatches = %d, want 0", s.ActiveMatches())
	}

	backups, err := filepath.Glob(path + ".corrupt.*")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want one", backups)
	}
	moved, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatalf("ReadFile(backup): %v", err)
	}
	if string(moved) != "{not json" {
		t.Errorf("backup contents = %q", moved)
	}

	fresh, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(fresh): %v", err)
	}
	var records map[string]core.MatchRecord
	if err := json.Unmarshal(fresh, &records); err != nil {
		t.Errorf("fresh store not parseable: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("fresh store has %d records", len(records))
	}
}

func TestStructurallyInvalidFileQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matches.json")

	// Parseable JSON, but both mirror records claim the first color.
	bad := map[string]core.MatchRecord{
		"alice": {PositionKey: startKey, Color: core.ColorFirst, Opponent: "bob", Difficulty: core.DifficultyBeginner},
		"bob":   {PositionKey: startKey, Color: core.ColorFirst, Opponent: "alice", Difficulty: core.DifficultyBeginner},
	}
	data, err := json.Marshal(bad)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ActiveMatches() != 0 {
		t.Errorf("ActiveMatches = %d, want 0", s.ActiveMatches())
	}
	backups, _ := filepath.Glob(path + ".corrupt.*")
	if len(backups) != 1 {
		t.Errorf("backups = %v, want one", backups)
	}
}

func TestMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.json")
	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ActiveMatches() != 0 {
		t.Errorf("ActiveMatches = %d, want 0", s.ActiveMatches())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("store file created before first mutation: %v", err)
	}
}
