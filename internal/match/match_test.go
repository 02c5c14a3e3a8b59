package match

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gambit/internal/archive"
	"gambit/internal/core"
	"gambit/internal/rules"
	"gambit/internal/store"
)

const botID = "engine:alice"

type stubEngine struct {
	calls int
	fn    func(positionKey string) (core.Move, error)
}

func (s *stubEngine) BestMove(ctx context.Context, positionKey string, difficulty core.Difficulty) (core.Move, error) {
	s.calls++
	return s.fn(positionKey)
}

// firstLegalEngine always plays the first legal move.
func firstLegalEngine() *stubEngine {
	return &stubEngine{fn: func(positionKey string) (core.Move, error) {
		legal, err := rules.New().LegalMoves(positionKey)
		if err != nil {
			return core.Move{}, err
		}
		if len(legal) == 0 {
			return core.Move{}, core.ErrNoLegalMoves
		}
		return legal[0], nil
	}}
}

func failingEngine(err error) *stubEngine {
	return &stubEngine{fn: func(string) (core.Move, error) {
		return core.Move{}, err
	}}
}

type stubArchiver struct {
	recs []archive.FinishedMatch
}

func (s *stubArchiver) RecordFinished(rec archive.FinishedMatch) {
	s.recs = append(s.recs, rec)
}

func newOrchestrator(t *testing.T, eng Engine) (*Orchestrator, *stubArchiver) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "matches.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	arc := &stubArchiver{}
	o := New(Config{AutomatedPrefix: "engine"}, rules.New(), eng, st, arc, zerolog.Nop())
	return o, arc
}

// createWithBotSecond retries until the coin flip gives the human the
// first color. When the bot draws first and the test's engine cannot
// produce the opening, CreateMatch rolls back with an error; that try
// just runs again.
func createWithBotSecond(t *testing.T, o *Orchestrator, humanID string) CreateResult {
	t.Helper()
	for i := 0; i < 50; i++ {
		res, err := o.CreateMatch(context.Background(), humanID, botID, core.DifficultyIntermediate, nil)
		if err != nil {
			if errors.Is(err, core.ErrEngineUnavailable) {
				continue
			}
			t.Fatalf("CreateMatch: %v", err)
		}
		if res.SecondID == botID {
			return res
		}
		if _, err := o.Resign(humanID); err != nil {
			t.Fatalf("Resign during retry: %v", err)
		}
	}
	t.Fatal("coin flip never made the bot second in 50 tries")
	return CreateResult{}
}

func TestCreateMatchMirrors(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())

	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyAdvanced, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if !(res.FirstID == "alice" && res.SecondID == "bob") && !(res.FirstID == "bob" && res.SecondID == "alice") {
		t.Fatalf("ids = %q, %q", res.FirstID, res.SecondID)
	}

	firstRec, _, err := o.Match(res.FirstID)
	if err != nil {
		t.Fatalf("Match(first): %v", err)
	}
	secondRec, _, err := o.Match(res.SecondID)
	if err != nil {
		t.Fatalf("Match(second): %v", err)
	}
	if firstRec.Color != core.ColorFirst || secondRec.Color != core.ColorSecond {
		t.Errorf("colors = %q, %q", firstRec.Color, secondRec.Color)
	}
	if firstRec.PositionKey != secondRec.PositionKey {
		t.Errorf("position keys diverge: %q vs %q", firstRec.PositionKey, secondRec.PositionKey)
	}
	if firstRec.Opponent != res.SecondID || secondRec.Opponent != res.FirstID {
		t.Errorf("opponents = %q, %q", firstRec.Opponent, secondRec.Opponent)
	}
}

func TestCreateMatchRejectsExisting(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	ctx := context.Background()

	if _, err := o.CreateMatch(ctx, "alice", "bob", core.DifficultyBeginner, nil); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if _, err := o.CreateMatch(ctx, "alice", "carol", core.DifficultyBeginner, nil); !errors.Is(err, core.ErrMatchAlreadyExists) {
		t.Errorf("err = %v, want ErrMatchAlreadyExists", err)
	}
}

func TestCreateMatchRejectsSelf(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	if _, err := o.CreateMatch(context.Background(), "alice", "alice", core.DifficultyBeginner, nil); err == nil {
		t.Error("self match accepted")
	}
}

func TestCreateMatchRejectsUnknownDifficulty(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	if _, err := o.CreateMatch(context.Background(), "alice", "bob", "grandmaster", nil); err == nil {
		t.Error("unknown difficulty accepted")
	}
}

func TestCreateMatchStoresChannelRef(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	ref := "thread-12"
	if _, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, &ref); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	rec, _, err := o.Match("alice")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if rec.ChannelRef == nil || *rec.ChannelRef != "thread-12" {
		t.Errorf("channelRef = %v", rec.ChannelRef)
	}
}

func TestNotYourTurn(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	_, err = o.ApplyMove(res.SecondID, "e5")
	if !errors.Is(err, core.ErrNotYourTurn) {
		t.Errorf("err = %v, want ErrNotYourTurn", err)
	}
	rec, _, _ := o.Match(res.SecondID)
	if rec.PositionKey != res.PositionKey {
		t.Errorf("position changed on rejected move: %q", rec.PositionKey)
	}
}

func TestIllegalMoveLeavesStateUnchanged(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	for _, text := range []string{"e5", "Ke2", "garbage"} {
		if _, err := o.ApplyMove(res.FirstID, text); !errors.Is(err, core.ErrIllegalMove) {
			t.Errorf("ApplyMove(%q) err = %v, want ErrIllegalMove", text, err)
		}
	}
	rec, status, err := o.Match(res.FirstID)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if rec.PositionKey != res.PositionKey {
		t.Errorf("position changed: %q", rec.PositionKey)
	}
	if status.Turn != core.ColorFirst {
		t.Errorf("turn = %q, want first", status.Turn)
	}
}

func TestApplyMoveUpdatesBothRecords(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	moveRes, err := o.ApplyMove(res.FirstID, "e4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if moveRes.Move.SAN != "e4" {
		t.Errorf("SAN = %q", moveRes.Move.SAN)
	}
	if moveRes.Status.Turn != core.ColorSecond {
		t.Errorf("turn = %q, want second", moveRes.Status.Turn)
	}

	firstRec, _, _ := o.Match(res.FirstID)
	secondRec, _, _ := o.Match(res.SecondID)
	if firstRec.PositionKey != moveRes.PositionKey || secondRec.PositionKey != moveRes.PositionKey {
		t.Errorf("records diverge: %q vs %q", firstRec.PositionKey, secondRec.PositionKey)
	}
	if firstRec.LastMoveSAN != "e4" || secondRec.LastMoveSAN != "e4" {
		t.Errorf("lastMoveSAN = %q, %q", firstRec.LastMoveSAN, secondRec.LastMoveSAN)
	}
	if firstRec.LastMoveAt == nil || secondRec.LastMoveAt == nil {
		t.Error("lastMoveAt not set")
	}
}

func TestAutomatedReplyScenario(t *testing.T) {
	eng := firstLegalEngine()
	o, _ := newOrchestrator(t, eng)
	res := createWithBotSecond(t, o, "alice")

	if res.Opening != nil {
		t.Fatalf("bot is second but an opening move was played: %+v", res.Opening)
	}

	if _, err := o.ApplyMove("alice", "e4"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	turn, err := o.Turn("alice")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn != core.ColorSecond {
		t.Fatalf("turn after e4 = %q, want second", turn)
	}

	reply, err := o.ApplyAutomatedMove(context.Background(), botID)
	if err != nil {
		t.Fatalf("ApplyAutomatedMove: %v", err)
	}
	if reply.Move.From == "" || reply.Move.To == "" {
		t.Errorf("reply move = %+v", reply.Move)
	}

	turn, err = o.Turn("alice")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn != core.ColorFirst {
		t.Errorf("turn after reply = %q, want first", turn)
	}
	if eng.calls != 1 {
		t.Errorf("engine calls = %d, want 1", eng.calls)
	}
}

func TestAutomatedMoveRequiresBotParticipant(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	createWithBotSecond(t, o, "alice")

	if _, err := o.ApplyAutomatedMove(context.Background(), "alice"); err == nil {
		t.Error("ApplyAutomatedMove accepted a human participant")
	}
}

func TestAutomatedMoveOutOfTurn(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	createWithBotSecond(t, o, "alice")

	// Human has not moved yet, so it is not the bot's turn.
	if _, err := o.ApplyAutomatedMove(context.Background(), botID); !errors.Is(err, core.ErrNotYourTurn) {
		t.Errorf("err = %v, want ErrNotYourTurn", err)
	}
}

func TestEngineFailureSurfacedAndStateUnchanged(t *testing.T) {
	o, _ := newOrchestrator(t, failingEngine(fmt.Errorf("%w: boom", core.ErrEngineUnavailable)))
	createWithBotSecond(t, o, "alice")

	moveRes, err := o.ApplyMove("alice", "e4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if !moveRes.OpponentIsAutomated {
		t.Error("OpponentIsAutomated = false")
	}

	if _, err := o.ApplyAutomatedMove(context.Background(), botID); !errors.Is(err, core.ErrEngineUnavailable) {
		t.Errorf("err = %v, want ErrEngineUnavailable", err)
	}
	rec, status, _ := o.Match("alice")
	if rec.PositionKey != moveRes.PositionKey {
		t.Errorf("position changed on engine failure: %q", rec.PositionKey)
	}
	if status.Turn != core.ColorSecond {
		t.Errorf("turn = %q, want second", status.Turn)
	}
}

func TestCreateMatchRollsBackWhenOpeningFails(t *testing.T) {
	o, _ := newOrchestrator(t, failingEngine(fmt.Errorf("%w: down", core.ErrEngineUnavailable)))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		res, err := o.CreateMatch(ctx, "alice", botID, core.DifficultyMaster, nil)
		if err == nil {
			// Bot drew second, no opening needed. Tear down and retry.
			if res.SecondID != botID {
				t.Fatalf("no error but bot is first: %+v", res)
			}
			if _, err := o.Resign("alice"); err != nil {
				t.Fatalf("Resign during retry: %v", err)
			}
			continue
		}
		if !errors.Is(err, core.ErrEngineUnavailable) {
			t.Fatalf("err = %v, want ErrEngineUnavailable", err)
		}
		if _, _, err := o.Match("alice"); !errors.Is(err, core.ErrNoActiveMatch) {
			t.Errorf("half-created match left behind: %v", err)
		}
		return
	}
	t.Fatal("coin flip never made the bot first in 50 tries")
}

func TestCreateMatchPlaysOpeningWhenBotIsFirst(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		res, err := o.CreateMatch(ctx, "alice", botID, core.DifficultyIntermediate, nil)
		if err != nil {
			t.Fatalf("CreateMatch: %v", err)
		}
		if res.FirstID != botID {
			if _, err := o.Resign("alice"); err != nil {
				t.Fatalf("Resign during retry: %v", err)
			}
			continue
		}
		if res.Opening == nil {
			t.Fatal("bot is first but no opening move")
		}
		turn, err := o.Turn("alice")
		if err != nil {
			t.Fatalf("Turn: %v", err)
		}
		if turn != core.ColorSecond {
			t.Errorf("turn after opening = %q, want second", turn)
		}
		return
	}
	t.Fatal("coin flip never made the bot first in 50 tries")
}

func TestCheckmateFinishesAndArchives(t *testing.T) {
	o, arc := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	// Fool's mate: second to move delivers mate on ply four.
	plies := []struct {
		id   string
		text string
	}{
		{res.FirstID, "f3"},
		{res.SecondID, "e5"},
		{res.FirstID, "g4"},
		{res.SecondID, "d8h4"},
	}
	var last MoveResult
	for _, ply := range plies {
		last, err = o.ApplyMove(ply.id, ply.text)
		if err != nil {
			t.Fatalf("ApplyMove(%s, %s): %v", ply.id, ply.text, err)
		}
	}

	if !last.Over || last.Reason != core.ReasonCheckmate {
		t.Errorf("last = over %v reason %q", last.Over, last.Reason)
	}
	if !last.Status.IsCheckmate {
		t.Errorf("status = %+v", last.Status)
	}

	for _, id := range []string{res.FirstID, res.SecondID} {
		if _, _, err := o.Match(id); !errors.Is(err, core.ErrNoActiveMatch) {
			t.Errorf("Match(%s) err = %v, want ErrNoActiveMatch", id, err)
		}
	}

	if len(arc.recs) != 1 {
		t.Fatalf("archived %d records, want 1", len(arc.recs))
	}
	rec := arc.recs[0]
	if rec.Reason != "checkmate" {
		t.Errorf("reason = %q", rec.Reason)
	}
	if rec.WinnerID == nil || *rec.WinnerID != res.SecondID {
		t.Errorf("winner = %v, want %q", rec.WinnerID, res.SecondID)
	}
	if rec.FirstID != res.FirstID || rec.SecondID != res.SecondID {
		t.Errorf("archived ids = %q, %q", rec.FirstID, rec.SecondID)
	}
}

func TestResignIdempotentFailure(t *testing.T) {
	o, arc := newOrchestrator(t, firstLegalEngine())
	if _, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	rec, err := o.Resign("alice")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if rec.Opponent != "bob" {
		t.Errorf("opponent = %q", rec.Opponent)
	}
	if _, err := o.Resign("alice"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("second Resign err = %v, want ErrNoActiveMatch", err)
	}

	if len(arc.recs) != 1 {
		t.Fatalf("archived %d records, want 1", len(arc.recs))
	}
	if arc.recs[0].Reason != "resignation" {
		t.Errorf("reason = %q", arc.recs[0].Reason)
	}
	if arc.recs[0].WinnerID == nil || *arc.recs[0].WinnerID != "bob" {
		t.Errorf("winner = %v, want bob", arc.recs[0].WinnerID)
	}
}

func TestQueriesWithoutMatch(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())

	if _, err := o.Turn("nobody"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("Turn err = %v, want ErrNoActiveMatch", err)
	}
	if _, _, err := o.Match("nobody"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("Match err = %v, want ErrNoActiveMatch", err)
	}
	if _, err := o.ApplyMove("nobody", "e4"); !errors.Is(err, core.ErrNoActiveMatch) {
		t.Errorf("ApplyMove err = %v, want ErrNoActiveMatch", err)
	}
}

func TestAutomatedNamespace(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())

	if got := o.AutomatedOpponentFor("carol"); got != "engine:carol" {
		t.Errorf("AutomatedOpponentFor = %q", got)
	}
	for id, want := range map[string]bool{
		"engine":       true,
		"engine:carol": true,
		"engineer":     false,
		"carol":        false,
	} {
		if o.IsAutomated(id) != want {
			t.Errorf("IsAutomated(%q) = %v, want %v", id, !want, want)
		}
	}
}

func TestWaitForChangeReturnsOnMove(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	type waitOut struct {
		rec core.MatchRecord
		err error
	}
	done := make(chan waitOut, 1)
	go func() {
		rec, _, err := o.WaitForChange(context.Background(), res.SecondID, res.PositionKey)
		done <- waitOut{rec, err}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := o.ApplyMove(res.FirstID, "e4"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("WaitForChange: %v", out.err)
		}
		if out.rec.PositionKey == res.PositionKey {
			t.Error("waiter woke with an unchanged position")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForChange did not return after a move")
	}
}

func TestWaitForChangeImmediateOnStaleKey(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	rec, _, err := o.WaitForChange(context.Background(), res.FirstID, "stale")
	if err != nil {
		t.Fatalf("WaitForChange: %v", err)
	}
	if rec.PositionKey != res.PositionKey {
		t.Errorf("positionKey = %q, want current", rec.PositionKey)
	}
}

func TestWaitForChangeContextCancel(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rec, _, err := o.WaitForChange(ctx, res.FirstID, res.PositionKey)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if rec.PositionKey != res.PositionKey {
		t.Errorf("position moved while nobody played")
	}
}

func TestWaitForChangeSeesMatchEnd(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())
	res, err := o.CreateMatch(context.Background(), "alice", "bob", core.DifficultyBeginner, nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := o.WaitForChange(context.Background(), res.FirstID, res.PositionKey)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := o.Resign(res.SecondID); err != nil {
		t.Fatalf("Resign: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, core.ErrNoActiveMatch) {
			t.Errorf("err = %v, want ErrNoActiveMatch", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForChange did not observe the resignation")
	}
}

func TestConcurrentAutomatedMatches(t *testing.T) {
	o, _ := newOrchestrator(t, firstLegalEngine())

	for _, human := range []string{"carol", "dave"} {
		bot := o.AutomatedOpponentFor(human)
		if _, err := o.CreateMatch(context.Background(), human, bot, core.DifficultyMaster, nil); err != nil {
			t.Fatalf("CreateMatch(%s): %v", human, err)
		}
	}

	if _, _, err := o.Match("carol"); err != nil {
		t.Errorf("carol match: %v", err)
	}
	if _, _, err := o.Match("dave"); err != nil {
		t.Errorf("dave match: %v", err)
	}
}
