package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gambit/internal/core"
	"gambit/internal/validation"
)

const (
	handshakeTimeout = 5 * time.Second
	quitGrace        = 1 * time.Second
)

// Rules is the slice of the rules adapter the bridge needs: legal moves
// for the fail-fast check and for resolving the engine's reply.
type Rules interface {
	LegalMoves(positionKey string) ([]core.Move, error)
}

type Config struct {
	// Binary is the path to a UCI engine executable.
	Binary string
	// MaxConcurrent caps simultaneous engine subprocesses.
	MaxConcurrent int
}

// Bridge obtains moves from an external UCI engine. Each request owns
// one subprocess for its whole lifetime; the subprocess is terminated
// on every exit path.
type Bridge struct {
	binary string
	rules  Rules
	sem    chan struct{}
	logger zerolog.Logger

	// Injectable randomness for the strength-easing draw.
	draw func() float64
	pick func(n int) int
}

func New(cfg Config, rules Rules, logger zerolog.Logger) *Bridge {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Bridge{
		binary: cfg.Binary,
		rules:  rules,
		sem:    make(chan struct{}, maxConcurrent),
		logger: logger,
		draw:   rand.Float64,
		pick:   rand.IntN,
	}
}

// BestMove runs one search at the given difficulty and returns the
// chosen move. Positions with no legal moves fail with NoLegalMoves
// before any subprocess is spawned. Lower tiers substitute a uniform
// random legal move with the tier's randomize probability.
func (b *Bridge) BestMove(ctx context.Context, positionKey string, difficulty core.Difficulty) (core.Move, error) {
	legal, err := b.rules.LegalMoves(positionKey)
	if err != nil {
		return core.Move{}, err
	}
	if len(legal) == 0 {
		return core.Move{}, core.ErrNoLegalMoves
	}
	if !validation.SafePositionKey(positionKey) {
		return core.Move{}, fmt.Errorf("position key unsafe for engine wire: %q", positionKey)
	}

	params := difficulty.Params()
	requestID := uuid.NewString()

	if params.RandomizeProbability > 0 && b.draw() < params.RandomizeProbability {
		mv := legal[b.pick(len(legal))]
		b.logger.Debug().
			Str("request", requestID).
			Str("difficulty", string(difficulty)).
			Str("move", mv.UCI()).
			Msg("randomized move, engine skipped")
		return mv, nil
	}

	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	case <-ctx.Done():
		return core.Move{}, fmt.Errorf("%w: %v", core.ErrEngineTimeout, ctx.Err())
	}

	started := time.Now()
	proc, err := b.startProcess()
	if err != nil {
		return core.Move{}, fmt.Errorf("%w: start engine: %v", core.ErrEngineUnavailable, err)
	}
	defer proc.shutdown()

	if err := proc.handshake(ctx, params.SkillLevel); err != nil {
		return core.Move{}, fmt.Errorf("%w: %v", core.ErrEngineUnavailable, err)
	}

	result, err := proc.search(ctx, positionKey, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return core.Move{}, fmt.Errorf("%w: %v", core.ErrEngineTimeout, err)
		}
		return core.Move{}, fmt.Errorf("%w: %v", core.ErrEngineUnavailable, err)
	}

	mv, ok := resolveMove(result.BestMove, legal)
	if !ok {
		return core.Move{}, fmt.Errorf("%w: engine returned unknown move %q", core.ErrEngineUnavailable, result.BestMove)
	}

	b.logger.Debug().
		Str("request", requestID).
		Str("difficulty", string(difficulty)).
		Str("move", mv.UCI()).
		Int("depth", result.Depth).
		Int("score", result.Score).
		Bool("mate", result.IsMate).
		Dur("elapsed", time.Since(started)).
		Msg("engine reply")
	return mv, nil
}

// resolveMove matches the engine's coordinate reply against the legal
// move list. A bare from-to reply that only exists as a promotion
// resolves to the queen promotion.
func resolveMove(text string, legal []core.Move) (core.Move, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, mv := range legal {
		if mv.UCI() == text {
			return mv, true
		}
	}
	for _, mv := range legal {
		if mv.From+mv.To == text && mv.Promotion == "q" {
			return mv, true
		}
	}
	return core.Move{}, false
}

type searchResult struct {
	BestMove string
	Score    int
	Depth    int
	IsMate   bool
	MateIn   int
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
}

func (b *Bridge) startProcess() (*process, error) {
	cmd := exec.Command(b.binary)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewScanner(stdout),
	}, nil
}

func (p *process) send(cmd string) {
	fmt.Fprintln(p.stdin, cmd)
}

// handshake drives uci/uciok, sets the skill level and waits for
// readyok before any position is sent.
func (p *process) handshake(ctx context.Context, skillLevel int) error {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	p.send("uci")
	if err := p.waitForLine(ctx, "uciok"); err != nil {
		return fmt.Errorf("waiting for uciok: %w", err)
	}

	if skillLevel < 0 {
		skillLevel = 0
	} else if skillLevel > 20 {
		skillLevel = 20
	}
	p.send(fmt.Sprintf("setoption name Skill Level value %d", skillLevel))

	p.send("isready")
	if err := p.waitForLine(ctx, "readyok"); err != nil {
		return fmt.Errorf("waiting for readyok: %w", err)
	}
	return nil
}

func (p *process) waitForLine(ctx context.Context, want string) error {
	done := make(chan error, 1)
	go func() {
		for p.stdout.Scan() {
			if p.stdout.Text() == want {
				done <- nil
				return
			}
		}
		done <- fmt.Errorf("engine closed unexpectedly")
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// search sends the position and a depth/movetime bounded go command and
// reads until bestmove. The wait is capped at twice the think time plus
// a fixed buffer so a wedged engine cannot hold the request forever.
func (p *process) search(ctx context.Context, positionKey string, params core.DifficultyParams) (*searchResult, error) {
	p.send(fmt.Sprintf("position fen %s", positionKey))
	p.send(fmt.Sprintf("go depth %d movetime %d", params.SearchDepth, params.ThinkTimeMs))

	ctx, cancel := context.WithTimeout(ctx, time.Duration(params.ThinkTimeMs*2+1000)*time.Millisecond)
	defer cancel()

	result := &searchResult{}
	done := make(chan error, 1)
	go func() {
		for p.stdout.Scan() {
			line := p.stdout.Text()

			if strings.HasPrefix(line, "info ") {
				fields := strings.Fields(line)
				for i := 0; i < len(fields)-1; i++ {
					switch fields[i] {
					case "depth":
						fmt.Sscanf(fields[i+1], "%d", &result.Depth)
					case "cp":
						fmt.Sscanf(fields[i+1], "%d", &result.Score)
						result.IsMate = false
					case "mate":
						fmt.Sscanf(fields[i+1], "%d", &result.MateIn)
						result.IsMate = true
					}
				}
			}

			if strings.HasPrefix(line, "bestmove") {
				parts := strings.Fields(line)
				if len(parts) >= 2 {
					result.BestMove = parts[1]
				}
				done <- nil
				return
			}
		}
		done <- fmt.Errorf("engine closed unexpectedly")
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shutdown asks the engine to quit and kills it if it lingers. Runs on
// every exit path of a request.
func (p *process) shutdown() {
	p.send("quit")
	p.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(quitGrace):
		p.cmd.Process.Kill()
		<-done
	}
}
