package rules

import (
	"errors"
	"strings"
	"testing"

	"gambit/internal/core"
)

const (
	startFEN     = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	foolsMateFEN = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"
	stalemateFEN = "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"
	twoKingsFEN  = "8/8/8/8/8/4k3/8/4K3 w - - 0 1"
	promotionFEN = "8/P7/8/8/8/4k3/8/4K3 w - - 0 1"
)

func TestNewPositionDefault(t *testing.T) {
	got, err := New().NewPosition("")
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	if got != startFEN {
		t.Errorf("NewPosition(\"\") = %q, want %q", got, startFEN)
	}
}

func TestNewPositionEcho(t *testing.T) {
	got, err := New().NewPosition(startFEN)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	if got != startFEN {
		t.Errorf("NewPosition(start) = %q, want %q", got, startFEN)
	}
}

func TestNewPositionRejectsGarbage(t *testing.T) {
	if _, err := New().NewPosition("not a position"); err == nil {
		t.Fatal("expected error for garbage position key")
	}
}

func TestApplyMoveSAN(t *testing.T) {
	key, move, err := New().ApplyMove(startFEN, "e4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if move.From != "e2" || move.To != "e4" || move.Promotion != "" {
		t.Errorf("move = %+v, want e2->e4", move)
	}
	if move.SAN != "e4" {
		t.Errorf("SAN = %q, want e4", move.SAN)
	}
	if !strings.HasPrefix(key, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Errorf("unexpected position after e4: %q", key)
	}
}

func TestApplyMoveCoordinateFallback(t *testing.T) {
	tests := []string{"e2e4", "E2E4"}
	for _, input := range tests {
		_, move, err := New().ApplyMove(startFEN, input)
		if err != nil {
			t.Fatalf("ApplyMove(%q): %v", input, err)
		}
		if move.From != "e2" || move.To != "e4" {
			t.Errorf("ApplyMove(%q) = %+v, want e2->e4", input, move)
		}
		if move.SAN != "e4" {
			t.Errorf("ApplyMove(%q) SAN = %q, want e4", input, move.SAN)
		}
	}
}

func TestApplyMoveIllegal(t *testing.T) {
	tests := []string{"e5", "Ke2", "e2e5", "zz", "Qh5"}
	for _, input := range tests {
		_, _, err := New().ApplyMove(startFEN, input)
		if !errors.Is(err, core.ErrIllegalMove) {
			t.Errorf("ApplyMove(%q) err = %v, want ErrIllegalMove", input, err)
		}
	}
}

func TestApplyMovePromotion(t *testing.T) {
	for _, input := range []string{"a8=Q", "a7a8q"} {
		_, move, err := New().ApplyMove(promotionFEN, input)
		if err != nil {
			t.Fatalf("ApplyMove(%q): %v", input, err)
		}
		if move.From != "a7" || move.To != "a8" || move.Promotion != "q" {
			t.Errorf("ApplyMove(%q) = %+v, want a7->a8 promo q", input, move)
		}
	}
}

func TestLegalMoves(t *testing.T) {
	moves, err := New().LegalMoves(startFEN)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	if len(moves) != 20 {
		t.Errorf("len(moves) = %d, want 20", len(moves))
	}
}

func TestLegalMovesNoneAtMate(t *testing.T) {
	moves, err := New().LegalMoves(foolsMateFEN)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("len(moves) = %d, want 0", len(moves))
	}
}

func TestLegalMovesIncludePromotions(t *testing.T) {
	moves, err := New().LegalMoves(promotionFEN)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	found := false
	for _, m := range moves {
		if m.From == "a7" && m.To == "a8" && m.Promotion == "q" {
			found = true
		}
	}
	if !found {
		t.Errorf("no queen promotion among %d moves", len(moves))
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		want core.Status
	}{
		{
			name: "start",
			fen:  startFEN,
			want: core.Status{Turn: core.ColorFirst},
		},
		{
			name: "checkmate",
			fen:  foolsMateFEN,
			want: core.Status{Turn: core.ColorFirst, InCheck: true, IsCheckmate: true, IsGameOver: true},
		},
		{
			name: "stalemate",
			fen:  stalemateFEN,
			want: core.Status{Turn: core.ColorSecond, IsStalemate: true, IsDraw: true, IsGameOver: true},
		},
		{
			name: "insufficient material",
			fen:  twoKingsFEN,
			want: core.Status{Turn: core.ColorFirst, IsDraw: true, IsGameOver: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New().Status(tt.fen)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if got != tt.want {
				t.Errorf("Status = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusTurnAlternates(t *testing.T) {
	a := New()
	key, _, err := a.ApplyMove(startFEN, "e4")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	st, err := a.Status(key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Turn != core.ColorSecond {
		t.Errorf("turn after e4 = %q, want second", st.Turn)
	}
}
