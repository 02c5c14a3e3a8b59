// Package main implements an interactive debugging client for the match server API.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gambit/internal/client/api"
	"gambit/internal/client/commands"
	"gambit/internal/client/display"
	"gambit/internal/client/session"

	"github.com/chzyer/readline"
)

func main() {
	baseURL := "http://localhost:8080"
	if v := os.Getenv("GAMBIT_API_URL"); v != "" {
		baseURL = v
	}

	s := &session.Session{
		APIBaseURL: baseURL,
		Client:     api.New(baseURL),
		Verbose:    false,
	}

	// Initialize readline
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          display.Prompt("gambit"),
		HistoryFile:     ".gambit_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("%s%s%s\n", display.Red, err.Error(), display.Reset)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("%sGambit Match Client%s\n", display.Cyan, display.Reset)
	fmt.Printf("%sAPI: %s%s\n", display.Cyan, s.APIBaseURL, display.Reset)
	fmt.Printf("Type 'help' for commands, 'as <name>' to pick an identity\n\n")

	registry := commands.NewRegistry(s)

	for {
		// Build enhanced prompt
		prompt := buildPrompt(s)
		rl.SetPrompt(prompt)

		line, err := rl.Readline()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line == "exit" || line == "quit" || line == "x" {
			break
		}

		// Check for verbose flag
		if strings.HasSuffix(line, " -v") {
			s.Verbose = true
			line = strings.TrimSuffix(line, " -v")
		} else {
			s.Verbose = false
		}

		registry.Execute(line)
	}
}

func buildPrompt(s *session.Session) string {
	parts := []string{}

	// Base
	base := "gambit"

	// Add identity/seat context
	if s.ParticipantID != "" {
		parts = append(parts, fmt.Sprintf("%s%s%s", display.Magenta, s.ParticipantID, display.Reset))
	}
	if s.CurrentMatch != nil {
		parts = append(parts, " "+display.Side(s.CurrentMatch.Color))
	}

	// Build first part
	promptStr := base
	if len(parts) > 0 {
		promptStr += display.Yellow + " [" + display.Reset + strings.Join(parts, "") + display.Yellow + "]"
	}

	// Add turn info if a match is cached
	if m := s.CurrentMatch; m != nil {
		if m.GameOver {
			promptStr += " - " + display.Cyan + "over" + display.Reset
		} else {
			promptStr += fmt.Sprintf(" - Turn:%s", display.Side(m.Turn))
		}
	}

	return display.Prompt(promptStr)
}
