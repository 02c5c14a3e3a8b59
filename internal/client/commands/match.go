package commands

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gambit/internal/client/api"
	"gambit/internal/client/display"
	"gambit/internal/core"
)

func (r *Registry) registerMatchCommands() {
	r.Register(&Command{
		Name:        "as",
		ShortName:   "i",
		Description: "Set or show the participant identity",
		Usage:       "as [participantId]",
		Handler:     identityHandler,
	})

	r.Register(&Command{
		Name:        "start",
		ShortName:   "n",
		Description: "Start a match against the engine",
		Usage:       "start [beginner|intermediate|advanced|master]",
		Handler:     startMatchHandler,
	})

	r.Register(&Command{
		Name:        "move",
		ShortName:   "m",
		Description: "Make a move",
		Usage:       "move <san-or-uci>",
		Handler:     moveHandler,
	})

	r.Register(&Command{
		Name:        "reply",
		ShortName:   "c",
		Description: "Ask for the engine opponent's move",
		Usage:       "reply",
		Handler:     replyHandler,
	})

	r.Register(&Command{
		Name:        "show",
		ShortName:   "h",
		Description: "Show board and match state",
		Usage:       "show",
		Handler:     showBoardHandler,
	})

	r.Register(&Command{
		Name:        "state",
		ShortName:   "s",
		Description: "Show raw match JSON",
		Usage:       "state",
		Handler:     matchStateHandler,
	})

	r.Register(&Command{
		Name:        "poll",
		ShortName:   "p",
		Description: "Long-poll for match updates",
		Usage:       "poll",
		Handler:     pollHandler,
	})

	r.Register(&Command{
		Name:        "resign",
		ShortName:   "d",
		Description: "Resign the current match",
		Usage:       "resign",
		Handler:     resignHandler,
	})

	r.Register(&Command{
		Name:        "recent",
		ShortName:   "r",
		Description: "List recently finished matches",
		Usage:       "recent [participantId] [limit]",
		Handler:     recentHandler,
	})
}

func requireIdentity(s Session) (string, error) {
	id := s.GetParticipantID()
	if id == "" {
		return "", fmt.Errorf("no identity set, use 'as <participantId>'")
	}
	return id, nil
}

func identityHandler(s Session, args []string) error {
	if len(args) == 0 {
		id := s.GetParticipantID()
		if id == "" {
			fmt.Printf("No identity set\n")
		} else {
			fmt.Printf("Playing as: %s%s%s\n", display.Magenta, id, display.Reset)
		}
		return nil
	}

	id := args[0]
	s.SetParticipantID(id)
	fmt.Printf("%sPlaying as: %s%s\n", display.Green, id, display.Reset)

	// Pick up an already running match for this identity
	c := s.GetClient().(*api.Client)
	resp, err := c.GetMatch(id)
	if err != nil {
		s.SetMatchState(nil)
		s.SetLastPositionKey("")
		fmt.Printf("%sNo active match for %s%s\n", display.Yellow, id, display.Reset)
		return nil
	}

	s.SetMatchState(resp)
	s.SetLastPositionKey(resp.PositionKey)
	fmt.Printf("%sActive match found against %s%s\n", display.Cyan, resp.OpponentID, display.Reset)
	fmt.Printf("Seat: %s | Turn: %s\n", display.Side(resp.Color), display.Side(resp.Turn))

	return nil
}

func startMatchHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	difficulty := ""
	if len(args) > 0 {
		difficulty = strings.ToLower(args[0])
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print(display.Yellow + "Difficulty (beginner/intermediate/advanced/master) [intermediate]: " + display.Reset)
		scanner.Scan()
		difficulty = strings.ToLower(strings.TrimSpace(scanner.Text()))
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.CreateMatch(id, difficulty)
	if err != nil {
		return err
	}

	s.SetMatchState(resp)
	s.SetLastPositionKey(resp.PositionKey)

	fmt.Printf("%sMatch created against %s%s\n", display.Green, resp.OpponentID, display.Reset)
	fmt.Printf("Seat: %s | Difficulty: %s\n", display.Side(resp.Color), resp.Difficulty)
	if resp.LastMoveSAN != "" {
		fmt.Printf("%sEngine opened with: %s%s\n", display.Magenta, resp.LastMoveSAN, display.Reset)
	}
	if resp.Turn == resp.Color {
		fmt.Printf("Your move\n")
	}

	return nil
}

func moveHandler(s Session, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: move <san-or-uci>")
	}

	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.MakeMove(id, args[0])
	if err != nil {
		return err
	}

	applyMoveResult(s, resp)
	fmt.Printf("%sPlayed: %s%s\n", display.Green, resp.Move.SAN, display.Reset)

	if resp.Reply != nil {
		fmt.Printf("%sOpponent replied: %s%s\n", display.Magenta, resp.Reply.SAN, display.Reset)
	}
	if resp.ReplyError != "" {
		fmt.Printf("%sEngine reply failed (%s), use 'reply' to retry%s\n",
			display.Yellow, resp.ReplyError, display.Reset)
	}
	printMoveOutcome(resp)

	return nil
}

func replyHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.EngineReply(id)
	if err != nil {
		return err
	}

	applyMoveResult(s, resp)
	fmt.Printf("%sEngine played: %s%s\n", display.Magenta, resp.Move.SAN, display.Reset)
	printMoveOutcome(resp)

	return nil
}

func showBoardHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)

	match, err := c.GetMatch(id)
	if err != nil {
		return err
	}

	board, err := c.GetBoard(id)
	if err != nil {
		return err
	}

	s.SetMatchState(match)
	s.SetLastPositionKey(match.PositionKey)

	fmt.Println()
	display.RenderBoard(board.Board)

	fmt.Printf("\nOpponent: %s | Seat: %s | Turn: %s\n",
		match.OpponentID, display.Side(match.Color), display.Side(match.Turn))
	if match.Difficulty != "" {
		fmt.Printf("Difficulty: %s\n", match.Difficulty)
	}
	if match.LastMoveSAN != "" {
		fmt.Printf("Last move: %s\n", match.LastMoveSAN)
	}
	if match.InCheck {
		fmt.Printf("%sCheck!%s\n", display.Red, display.Reset)
	}
	if match.GameOver {
		fmt.Printf("%sGame over%s\n", display.Cyan, display.Reset)
	}

	return nil
}

func matchStateHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.GetMatch(id)
	if err != nil {
		return err
	}

	s.SetMatchState(resp)
	s.SetLastPositionKey(resp.PositionKey)

	fmt.Printf("%sMatch State:%s\n", display.Cyan, display.Reset)
	display.PrettyPrintJSON(resp)

	return nil
}

func pollHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	sinceKey := s.GetLastPositionKey()
	c := s.GetClient().(*api.Client)

	fmt.Printf("%sLong-polling for updates...%s\n", display.Cyan, display.Reset)
	fmt.Printf("%sThis may take up to 25 seconds%s\n", display.Cyan, display.Reset)

	resp, err := c.GetMatchWithWait(id, sinceKey)
	if err != nil {
		return err
	}

	s.SetMatchState(resp)
	s.SetLastPositionKey(resp.PositionKey)

	if resp.PositionKey != sinceKey {
		fmt.Printf("%sMatch updated!%s\n", display.Green, display.Reset)
		if resp.LastMoveSAN != "" {
			fmt.Printf("Last move: %s\n", resp.LastMoveSAN)
		}
		fmt.Printf("Turn: %s\n", display.Side(resp.Turn))
	} else {
		fmt.Printf("%sNo updates (timeout)%s\n", display.Yellow, display.Reset)
	}

	return nil
}

func resignHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.Resign(id)
	if err != nil {
		return err
	}

	s.SetMatchState(nil)
	s.SetLastPositionKey("")

	fmt.Printf("%sResigned. Winner: %s%s\n", display.Cyan, resp.Winner, display.Reset)
	return nil
}

func recentHandler(s Session, args []string) error {
	participantID := ""
	limit := 0
	if len(args) > 0 {
		participantID = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid limit: %s", args[1])
		}
		limit = n
	}

	c := s.GetClient().(*api.Client)
	entries, err := c.RecentMatches(participantID, limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Printf("%sNo finished matches%s\n", display.Yellow, display.Reset)
		return nil
	}

	fmt.Printf("\n%sRecent Matches:%s\n", display.Cyan, display.Reset)
	for i, e := range entries {
		winner := e.WinnerID
		if winner == "" {
			winner = "draw"
		}
		fmt.Printf("%2d. %s vs %s  %s%s%s (%s)  %s\n",
			i+1, e.FirstID, e.SecondID,
			display.Green, winner, display.Reset,
			e.Reason, e.EndedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

// applyMoveResult folds a move response into the cached match state so
// the prompt stays current without another GET.
func applyMoveResult(s Session, resp *core.MoveResponse) {
	s.SetLastPositionKey(resp.PositionKey)
	if m := s.GetMatchState(); m != nil {
		m.PositionKey = resp.PositionKey
		m.Turn = resp.Turn
		m.InCheck = resp.InCheck
		m.GameOver = resp.GameOver
		if resp.Reply != nil {
			m.LastMoveSAN = resp.Reply.SAN
		} else {
			m.LastMoveSAN = resp.Move.SAN
		}
	}
}

func printMoveOutcome(resp *core.MoveResponse) {
	if resp.InCheck && !resp.GameOver {
		fmt.Printf("%sCheck!%s\n", display.Red, display.Reset)
	}
	if resp.GameOver {
		fmt.Printf("%sGame over: %s%s\n", display.Cyan, resp.Reason, display.Reset)
	}
}
