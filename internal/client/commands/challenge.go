package commands

import (
	"fmt"

	"gambit/internal/client/api"
	"gambit/internal/client/display"
)

func (r *Registry) registerChallengeCommands() {
	r.Register(&Command{
		Name:        "challenge",
		ShortName:   "j",
		Description: "Challenge another participant",
		Usage:       "challenge <participantId>",
		Handler:     challengeHandler,
	})

	r.Register(&Command{
		Name:        "pending",
		ShortName:   "e",
		Description: "Show the pending challenge",
		Usage:       "pending [participantId]",
		Handler:     pendingChallengeHandler,
	})

	r.Register(&Command{
		Name:        "accept",
		ShortName:   "y",
		Description: "Accept the pending challenge",
		Usage:       "accept",
		Handler:     acceptChallengeHandler,
	})

	r.Register(&Command{
		Name:        "cancel",
		ShortName:   "o",
		Description: "Cancel the pending challenge",
		Usage:       "cancel",
		Handler:     cancelChallengeHandler,
	})
}

func challengeHandler(s Session, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: challenge <participantId>")
	}

	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.ProposeChallenge(id, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%sChallenge sent to %s%s\n", display.Green, resp.ChallengedID, display.Reset)
	fmt.Printf("Expires in 5 minutes unless accepted\n")
	return nil
}

func pendingChallengeHandler(s Session, args []string) error {
	id := s.GetParticipantID()
	if len(args) > 0 {
		id = args[0]
	}
	if id == "" {
		return fmt.Errorf("specify a participant ID or set an identity with 'as'")
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.GetChallenge(id)
	if err != nil {
		return err
	}

	fmt.Printf("%sPending challenge:%s\n", display.Cyan, display.Reset)
	fmt.Printf("  Challenger: %s\n", resp.ChallengerID)
	fmt.Printf("  Challenged: %s\n", resp.ChallengedID)
	fmt.Printf("  Created:    %s\n", resp.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func acceptChallengeHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	resp, err := c.AcceptChallenge(id)
	if err != nil {
		return err
	}

	s.SetMatchState(resp)
	s.SetLastPositionKey(resp.PositionKey)

	fmt.Printf("%sChallenge accepted, match on against %s%s\n", display.Green, resp.OpponentID, display.Reset)
	fmt.Printf("Seat: %s | Turn: %s\n", display.Side(resp.Color), display.Side(resp.Turn))
	if resp.Turn == resp.Color {
		fmt.Printf("Your move\n")
	} else {
		fmt.Printf("Waiting for opponent, use 'poll' to watch for their move\n")
	}
	return nil
}

func cancelChallengeHandler(s Session, args []string) error {
	id, err := requireIdentity(s)
	if err != nil {
		return err
	}

	c := s.GetClient().(*api.Client)
	if err := c.CancelChallenge(id); err != nil {
		return err
	}

	fmt.Printf("%sChallenge cancelled%s\n", display.Cyan, display.Reset)
	return nil
}
