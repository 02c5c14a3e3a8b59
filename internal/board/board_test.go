package board

import (
	"strings"
	"testing"

	"gambit/internal/core"
)

const startKey = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestParse(t *testing.T) {
	b, err := Parse(startKey)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Turn() != core.ColorFirst {
		t.Errorf("Turn = %q, want first", b.Turn())
	}
	if got := b.PieceAt("e1"); got != 'K' {
		t.Errorf("PieceAt(e1) = %c, want K", got)
	}
	if got := b.PieceAt("d8"); got != 'q' {
		t.Errorf("PieceAt(d8) = %c, want q", got)
	}
	if got := b.PieceAt("e4"); got != 0 {
		t.Errorf("PieceAt(e4) = %c, want empty", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP w KQkq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1",
		"rnbqkbnr/pppppppp/9/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - x 1",
	}
	for _, key := range tests {
		if _, err := Parse(key); err == nil {
			t.Errorf("Parse(%q): expected error", key)
		}
	}
}

func TestPieceAtBounds(t *testing.T) {
	b, err := Parse(startKey)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, square := range []string{"", "e", "i1", "a9", "e10"} {
		if got := b.PieceAt(square); got != 0 {
			t.Errorf("PieceAt(%q) = %c, want 0", square, got)
		}
	}
}

func TestASCIIPerspectives(t *testing.T) {
	b, err := Parse(startKey)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	first := b.ASCII(core.ColorFirst)
	lines := strings.Split(first, "\n")
	if len(lines) != 10 {
		t.Fatalf("len(lines) = %d, want 10", len(lines))
	}
	if !strings.HasPrefix(lines[1], "8 r n b q k b n r") {
		t.Errorf("top rank = %q", lines[1])
	}
	if !strings.HasPrefix(lines[8], "1 R N B Q K B N R") {
		t.Errorf("bottom rank = %q", lines[8])
	}

	second := b.ASCII(core.ColorSecond)
	lines = strings.Split(second, "\n")
	if !strings.HasPrefix(lines[1], "1 R N B K Q B N R") {
		t.Errorf("flipped top rank = %q", lines[1])
	}
	if !strings.Contains(lines[0], "h g f e d c b a") {
		t.Errorf("flipped file header = %q", lines[0])
	}
}
