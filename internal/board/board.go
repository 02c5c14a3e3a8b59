package board

import (
	"fmt"
	"strings"

	"gambit/internal/core"
)

// Board is a parsed position key, used for rendering only. Move
// legality lives in the rules adapter, never here.
type Board struct {
	squares   [8][8]byte
	turn      core.Color
	castling  string
	enPassant string
	halfmove  int
	fullmove  int
}

func Parse(key string) (*Board, error) {
	parts := strings.Fields(key)
	if len(parts) != 6 {
		return nil, fmt.Errorf("invalid position key: expected 6 fields, got %d", len(parts))
	}

	b := &Board{}

	ranks := strings.Split(parts[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("invalid position key: expected 8 ranks")
	}

	for r := 0; r < 8; r++ {
		file := 0
		for _, ch := range ranks[r] {
			if ch >= '1' && ch <= '8' {
				file += int(ch - '0')
			} else {
				if file >= 8 {
					return nil, fmt.Errorf("invalid position key: too many pieces in rank %d", 8-r)
				}
				b.squares[r][file] = byte(ch)
				file++
			}
		}
		if file != 8 {
			return nil, fmt.Errorf("invalid position key: rank %d has %d files", 8-r, file)
		}
	}

	switch parts[1] {
	case "w":
		b.turn = core.ColorFirst
	case "b":
		b.turn = core.ColorSecond
	default:
		return nil, fmt.Errorf("invalid position key: side to move must be 'w' or 'b'")
	}
	b.castling = parts[2]
	b.enPassant = parts[3]

	if _, err := fmt.Sscanf(parts[4], "%d", &b.halfmove); err != nil {
		return nil, fmt.Errorf("invalid position key: halfmove counter")
	}
	if _, err := fmt.Sscanf(parts[5], "%d", &b.fullmove); err != nil {
		return nil, fmt.Errorf("invalid position key: fullmove counter")
	}

	return b, nil
}

// ASCII renders the board from the given seat: the first player's
// pieces sit at the bottom for ColorFirst, at the top for ColorSecond.
func (b *Board) ASCII(perspective core.Color) string {
	files := "a b c d e f g h"
	if perspective == core.ColorSecond {
		files = "h g f e d c b a"
	}

	var sb strings.Builder
	sb.WriteString("  " + files + "\n")

	for row := 0; row < 8; row++ {
		r := row
		if perspective == core.ColorSecond {
			r = 7 - row
		}
		sb.WriteString(fmt.Sprintf("%d ", 8-r))
		for col := 0; col < 8; col++ {
			f := col
			if perspective == core.ColorSecond {
				f = 7 - col
			}
			piece := b.squares[r][f]
			if piece == 0 {
				sb.WriteString(". ")
			} else {
				sb.WriteString(fmt.Sprintf("%c ", piece))
			}
		}
		sb.WriteString(fmt.Sprintf(" %d\n", 8-r))
	}
	sb.WriteString("  " + files)

	return sb.String()
}

func (b *Board) Turn() core.Color {
	return b.turn
}

func (b *Board) PieceAt(square string) byte {
	if len(square) != 2 {
		return 0
	}
	if square[0] < 'a' || square[0] > 'h' || square[1] < '1' || square[1] > '8' {
		return 0
	}
	file := square[0] - 'a'
	rank := '8' - square[1]
	return b.squares[rank][file]
}
