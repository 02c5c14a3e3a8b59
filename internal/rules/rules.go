package rules

import (
	"fmt"
	"strings"

	chesslib "github.com/corentings/chess/v2"

	"gambit/internal/core"
)

// Adapter wraps the chess rules library behind the narrow contract the
// orchestrator and engine bridge consume. Pure computation, no state.
type Adapter struct{}

func New() Adapter {
	return Adapter{}
}

// NewPosition returns the position key for the given starting point, or the
// standard starting position when initial is empty.
func (Adapter) NewPosition(initial string) (string, error) {
	if initial == "" {
		return chesslib.NewGame().FEN(), nil
	}
	game, err := gameFromKey(initial)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

// ApplyMove applies moveText to the position, trying standard algebraic
// notation first and coordinate notation second, and returns the new
// position key with the resolved move. Fails with ErrIllegalMove without
// touching anything when the text matches no legal move.
func (Adapter) ApplyMove(positionKey, moveText string) (string, core.Move, error) {
	game, err := gameFromKey(positionKey)
	if err != nil {
		return "", core.Move{}, err
	}

	notationSAN := chesslib.AlgebraicNotation{}
	notationUCI := chesslib.UCINotation{}
	pos := game.Position()

	move, err := notationSAN.Decode(pos, moveText)
	if err != nil {
		move, err = notationUCI.Decode(pos, strings.ToLower(moveText))
		if err != nil {
			return "", core.Move{}, fmt.Errorf("%w: %q", core.ErrIllegalMove, moveText)
		}
	}
	if err := game.Move(move, nil); err != nil {
		return "", core.Move{}, fmt.Errorf("%w: %q", core.ErrIllegalMove, moveText)
	}

	detail := core.Move{
		From:      move.S1().String(),
		To:        move.S2().String(),
		Promotion: promoLetter(move.Promo()),
		SAN:       notationSAN.Encode(pos, move),
	}
	return game.FEN(), detail, nil
}

// LegalMoves enumerates every legal move in the position.
func (Adapter) LegalMoves(positionKey string) ([]core.Move, error) {
	game, err := gameFromKey(positionKey)
	if err != nil {
		return nil, err
	}

	notationSAN := chesslib.AlgebraicNotation{}
	pos := game.Position()
	valid := game.ValidMoves()

	moves := make([]core.Move, 0, len(valid))
	for _, mv := range valid {
		m := mv
		moves = append(moves, core.Move{
			From:      m.S1().String(),
			To:        m.S2().String(),
			Promotion: promoLetter(m.Promo()),
			SAN:       notationSAN.Encode(pos, &m),
		})
	}
	return moves, nil
}

// Status reports turn, check and terminal flags for the position.
func (Adapter) Status(positionKey string) (core.Status, error) {
	game, err := gameFromKey(positionKey)
	if err != nil {
		return core.Status{}, err
	}

	pos := game.Position()
	st := core.Status{
		Turn:    colorFrom(pos.Turn()),
		InCheck: pos.InCheck(),
	}
	switch game.Method() {
	case chesslib.Checkmate:
		st.IsCheckmate = true
	case chesslib.Stalemate:
		st.IsStalemate = true
	}
	if game.Outcome() == chesslib.Draw {
		st.IsDraw = true
	}
	st.IsGameOver = game.Outcome() != chesslib.NoOutcome
	return st, nil
}

func gameFromKey(positionKey string) (*chesslib.Game, error) {
	option, err := chesslib.FEN(positionKey)
	if err != nil {
		return nil, fmt.Errorf("parse position key: %w", err)
	}
	return chesslib.NewGame(option), nil
}

func colorFrom(c chesslib.Color) core.Color {
	if c == chesslib.White {
		return core.ColorFirst
	}
	return core.ColorSecond
}

func promoLetter(pt chesslib.PieceType) string {
	switch pt {
	case chesslib.Queen:
		return "q"
	case chesslib.Rook:
		return "r"
	case chesslib.Bishop:
		return "b"
	case chesslib.Knight:
		return "n"
	default:
		return ""
	}
}
