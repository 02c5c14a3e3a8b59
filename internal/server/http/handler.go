package http

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"gambit/internal/archive"
	"gambit/internal/board"
	"gambit/internal/challenge"
	"gambit/internal/core"
	"gambit/internal/match"
	"gambit/internal/store"
	"gambit/internal/validation"
)

const rateLimitRate = 10 // req/sec

// Handler routes HTTP requests to the orchestrator, registry and archive.
type Handler struct {
	orch     *match.Orchestrator
	registry *challenge.Registry
	archive  *archive.Archive // nil when archiving is disabled
	store    *store.Store
	logger   zerolog.Logger
}

func NewHandler(orch *match.Orchestrator, registry *challenge.Registry, arc *archive.Archive, st *store.Store, logger zerolog.Logger) *Handler {
	return &Handler{orch: orch, registry: registry, archive: arc, store: st, logger: logger}
}

func NewFiberApp(h *Handler, devMode bool) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	})

	// Global middleware (order matters)
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check (no rate limit)
	app.Get("/api/health", h.Health)

	api := app.Group("/api")

	// Standard rate limiting for everything behind /api
	maxReq := rateLimitRate
	if devMode {
		maxReq = rateLimitRate * 2
	}
	api.Use(limiter.New(limiter.Config{
		Max:          maxReq,
		Expiration:   1 * time.Second,
		KeyGenerator: clientIP,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.CodeRateLimit,
				Details: fmt.Sprintf("%d requests per second allowed", maxReq),
			})
		},
	}))

	// Content-Type validation for POST and PUT requests
	api.Use(contentTypeValidator)

	// Middleware validation for sanitization
	api.Use(validationMiddleware)

	// Challenge proposals get a tighter lid: 10 req/min per IP
	challengeLimiter := limiter.New(limiter.Config{
		Max:          10,
		Expiration:   1 * time.Minute,
		KeyGenerator: clientIP,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.CodeRateLimit,
				Details: "10 challenge proposals per minute allowed",
			})
		},
	})

	api.Post("/challenge", challengeLimiter, h.ProposeChallenge)
	api.Get("/challenge/:participantID", h.GetChallenge)
	api.Post("/challenge/accept", h.AcceptChallenge)
	api.Post("/challenge/cancel", h.CancelChallenge)
	api.Post("/match", h.CreateMatch)
	api.Post("/match/move", h.MakeMove)
	api.Post("/match/reply", h.EngineReply)
	api.Post("/match/resign", h.Resign)
	api.Get("/match/:participantID", h.GetMatch)
	api.Get("/match/:participantID/board", h.GetBoard)
	api.Get("/archive/recent", h.RecentMatches)

	return app
}

// clientIP keys rate limits by the forwarded client address when a
// proxy fronts the server.
func clientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	return c.IP()
}

// customErrorHandler provides consistent error responses
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	response := core.ErrorResponse{
		Error: "internal server error",
		Code:  core.CodeInternalError,
	}

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		response.Error = e.Message

		switch code {
		case fiber.StatusNotFound, fiber.StatusMethodNotAllowed, fiber.StatusBadRequest:
			response.Code = core.CodeInvalidRequest
		case fiber.StatusTooManyRequests:
			response.Code = core.CodeRateLimit
		}
	}

	return c.Status(code).JSON(response)
}

// domainStatus maps orchestrator errors to an HTTP status and error code.
func domainStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrIllegalMove):
		return fiber.StatusBadRequest, core.CodeIllegalMove
	case errors.Is(err, core.ErrNotYourTurn):
		return fiber.StatusConflict, core.CodeNotYourTurn
	case errors.Is(err, core.ErrNoActiveMatch):
		return fiber.StatusNotFound, core.CodeNoActiveMatch
	case errors.Is(err, core.ErrMatchAlreadyExists):
		return fiber.StatusConflict, core.CodeMatchExists
	case errors.Is(err, core.ErrEngineTimeout):
		return fiber.StatusGatewayTimeout, core.CodeEngineTimeout
	case errors.Is(err, core.ErrEngineUnavailable):
		return fiber.StatusServiceUnavailable, core.CodeEngineDown
	case errors.Is(err, core.ErrNoLegalMoves):
		return fiber.StatusConflict, core.CodeNoLegalMoves
	case errors.Is(err, core.ErrStorageIO):
		return fiber.StatusInternalServerError, core.CodeStorageFailure
	default:
		return fiber.StatusBadRequest, core.CodeInvalidRequest
	}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, code := domainStatus(err)
	return c.Status(status).JSON(core.ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// Health reports liveness plus the state of the moving parts.
func (h *Handler) Health(c *fiber.Ctx) error {
	status := "healthy"
	archiveState := "disabled"
	if h.archive != nil {
		archiveState = "healthy"
		if !h.archive.IsHealthy() {
			archiveState = "degraded"
			status = "degraded"
		}
	}
	return c.JSON(fiber.Map{
		"status":            status,
		"time":              time.Now().Unix(),
		"activeMatches":     h.store.ActiveMatches(),
		"pendingChallenges": h.registry.Pending(),
		"archive":           archiveState,
	})
}

// ProposeChallenge registers a pending challenge between two humans.
func (h *Handler) ProposeChallenge(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.ProposeChallengeRequest))

	if !validation.SafeParticipantID(req.ChallengerID) || !validation.SafeParticipantID(req.ChallengedID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "invalid participant ID format",
			Code:    core.CodeInvalidRequest,
			Details: "participant IDs may contain letters, digits, and _.:@-",
		})
	}
	if req.ChallengerID == req.ChallengedID {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "cannot challenge yourself",
			Code:  core.CodeInvalidRequest,
		})
	}
	if h.orch.IsAutomated(req.ChallengerID) || h.orch.IsAutomated(req.ChallengedID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "automated opponents do not take challenges",
			Code:    core.CodeInvalidRequest,
			Details: "create an engine match directly via /api/match",
		})
	}

	if !h.registry.Propose(req.ChallengerID, req.ChallengedID) {
		return c.Status(fiber.StatusConflict).JSON(core.ErrorResponse{
			Error: "a pending challenge already involves one of the participants",
			Code:  core.CodeChallengeBusy,
		})
	}

	resp := core.ChallengeResponse{
		ChallengerID: req.ChallengerID,
		ChallengedID: req.ChallengedID,
		CreatedAt:    time.Now().UTC(),
	}
	if rec := h.registry.PendingFor(req.ChallengedID); rec != nil {
		resp.CreatedAt = rec.CreatedAt
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetChallenge returns the pending challenge involving the participant.
func (h *Handler) GetChallenge(c *fiber.Ctx) error {
	participantID := c.Params("participantID")
	if !validation.SafeParticipantID(participantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	rec := h.registry.PendingFor(participantID)
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
			Error: "no pending challenge",
			Code:  core.CodeNoChallenge,
		})
	}
	return c.JSON(core.ChallengeResponse{
		ChallengerID: rec.ChallengerID,
		ChallengedID: rec.ChallengedID,
		CreatedAt:    rec.CreatedAt,
	})
}

// AcceptChallenge consumes a pending challenge and starts the match.
func (h *Handler) AcceptChallenge(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.AcceptChallengeRequest))

	if !validation.SafeParticipantID(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	rec := h.registry.Accept(req.ParticipantID)
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
			Error: "no pending challenge",
			Code:  core.CodeNoChallenge,
		})
	}

	if _, err := h.orch.CreateMatch(c.Context(), rec.ChallengerID, rec.ChallengedID, core.DifficultyIntermediate, req.ChannelRef); err != nil {
		return h.fail(c, err)
	}

	mrec, status, err := h.orch.Match(req.ParticipantID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(matchResponse(mrec, status))
}

// CancelChallenge withdraws a pending challenge from either side.
func (h *Handler) CancelChallenge(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.CancelChallengeRequest))

	if !validation.SafeParticipantID(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	if !h.registry.Cancel(req.ParticipantID) {
		return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
			Error: "no pending challenge",
			Code:  core.CodeNoChallenge,
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateMatch starts a match against the automated opponent.
func (h *Handler) CreateMatch(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.CreateMatchRequest))

	if !validation.SafeParticipantID(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}
	if h.orch.IsAutomated(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "participant ID collides with the automated namespace",
			Code:  core.CodeInvalidRequest,
		})
	}

	difficulty := core.Difficulty(req.Difficulty)
	if req.Difficulty == "" {
		difficulty = core.DifficultyIntermediate
	}

	opponent := h.orch.AutomatedOpponentFor(req.ParticipantID)
	if _, err := h.orch.CreateMatch(c.Context(), req.ParticipantID, opponent, difficulty, req.ChannelRef); err != nil {
		return h.fail(c, err)
	}

	rec, status, err := h.orch.Match(req.ParticipantID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(matchResponse(rec, status))
}

// MakeMove applies the participant's move. When the opponent is the
// automated participant and the game continues, its reply is played
// before responding; a failed reply still reports the applied move.
func (h *Handler) MakeMove(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.MoveRequest))

	if !validation.SafeParticipantID(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}
	if !validation.SafeMoveText(req.Move) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "invalid move format",
			Code:    core.CodeInvalidRequest,
			Details: "moves are algebraic (e4, Nf3, O-O) or coordinate (e2e4, a7a8q)",
		})
	}

	res, err := h.orch.ApplyMove(req.ParticipantID, req.Move)
	if err != nil {
		return h.fail(c, err)
	}

	resp := core.MoveResponse{
		Move:        moveInfo(res),
		PositionKey: res.PositionKey,
		Turn:        string(res.Status.Turn),
		InCheck:     res.Status.InCheck,
		GameOver:    res.Over,
		Reason:      string(res.Reason),
	}

	if !res.Over && res.OpponentIsAutomated {
		reply, err := h.orch.ApplyAutomatedMove(c.Context(), res.Opponent)
		if err != nil {
			h.logger.Warn().Err(err).
				Str("participant", req.ParticipantID).
				Msg("automated reply failed")
			_, resp.ReplyError = domainStatus(err)
		} else {
			info := moveInfo(reply)
			resp.Reply = &info
			resp.PositionKey = reply.PositionKey
			resp.Turn = string(reply.Status.Turn)
			resp.InCheck = reply.Status.InCheck
			resp.GameOver = reply.Over
			resp.Reason = string(reply.Reason)
		}
	}

	return c.JSON(resp)
}

// EngineReply plays the automated opponent's pending move. It retries
// a reply that failed during MakeMove.
func (h *Handler) EngineReply(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.ReplyRequest))

	if !validation.SafeParticipantID(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	rec, _, err := h.orch.Match(req.ParticipantID)
	if err != nil {
		return h.fail(c, err)
	}
	if !h.orch.IsAutomated(rec.Opponent) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "opponent is not automated",
			Code:  core.CodeInvalidRequest,
		})
	}

	res, err := h.orch.ApplyAutomatedMove(c.Context(), rec.Opponent)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(core.MoveResponse{
		Move:        moveInfo(res),
		PositionKey: res.PositionKey,
		Turn:        string(res.Status.Turn),
		InCheck:     res.Status.InCheck,
		GameOver:    res.Over,
		Reason:      string(res.Reason),
	})
}

// Resign forfeits the participant's match.
func (h *Handler) Resign(c *fiber.Ctx) error {
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.CodeInternalError,
		})
	}
	validatedBody := c.Locals("validatedBody")
	if validatedBody == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.CodeInternalError,
		})
	}
	req := *(validatedBody.(*core.ResignRequest))

	if !validation.SafeParticipantID(req.ParticipantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	rec, err := h.orch.Resign(req.ParticipantID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"winner": rec.Opponent,
		"reason": string(core.ReasonResignation),
	})
}

// GetMatch returns the participant's record and position verdict. With
// ?wait=true it long-polls until the position moves past ?since=<key>.
func (h *Handler) GetMatch(c *fiber.Ctx) error {
	participantID := c.Params("participantID")
	if !validation.SafeParticipantID(participantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	if c.Query("wait", "false") != "true" {
		rec, status, err := h.orch.Match(participantID)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(matchResponse(rec, status))
	}

	sinceKey := c.Query("since")
	rec, status, err := h.orch.WaitForChange(c.Context(), participantID, sinceKey)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away mid-poll.
			return nil
		}
		return h.fail(c, err)
	}
	return c.JSON(matchResponse(rec, status))
}

// GetBoard renders the position from the participant's perspective.
func (h *Handler) GetBoard(c *fiber.Ctx) error {
	participantID := c.Params("participantID")
	if !validation.SafeParticipantID(participantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	rec, status, err := h.orch.Match(participantID)
	if err != nil {
		return h.fail(c, err)
	}

	b, err := board.Parse(rec.PositionKey)
	if err != nil {
		h.logger.Error().Err(err).Str("participant", participantID).Msg("stored position failed to parse")
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "stored position unreadable",
			Code:  core.CodeInternalError,
		})
	}
	return c.JSON(core.BoardResponse{
		Board:       b.ASCII(rec.Color),
		Turn:        string(status.Turn),
		PositionKey: rec.PositionKey,
	})
}

// RecentMatches lists finished matches from the archive, newest first.
func (h *Handler) RecentMatches(c *fiber.Ctx) error {
	if h.archive == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(core.ErrorResponse{
			Error: "match archive disabled",
			Code:  core.CodeStorageFailure,
		})
	}

	participantID := c.Query("participantId")
	if participantID != "" && !validation.SafeParticipantID(participantID) {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error: "invalid participant ID format",
			Code:  core.CodeInvalidRequest,
		})
	}

	rows, err := h.archive.Recent(c.Context(), participantID, c.QueryInt("limit", 0))
	if err != nil {
		return h.fail(c, err)
	}

	resp := make([]core.ArchiveEntryResponse, 0, len(rows))
	for _, row := range rows {
		entry := core.ArchiveEntryResponse{
			MatchID:       row.ID,
			FirstID:       row.FirstID,
			SecondID:      row.SecondID,
			Reason:        row.Reason,
			Difficulty:    row.Difficulty,
			FinalPosition: row.FinalPosition,
			EndedAt:       row.EndedAt,
		}
		if row.WinnerID != nil {
			entry.WinnerID = *row.WinnerID
		}
		resp = append(resp, entry)
	}
	return c.JSON(resp)
}

func matchResponse(rec core.MatchRecord, status core.Status) core.MatchResponse {
	return core.MatchResponse{
		ParticipantID: rec.ParticipantID,
		OpponentID:    rec.Opponent,
		Color:         string(rec.Color),
		PositionKey:   rec.PositionKey,
		Difficulty:    string(rec.Difficulty),
		Turn:          string(status.Turn),
		InCheck:       status.InCheck,
		GameOver:      status.IsGameOver,
		LastMoveSAN:   rec.LastMoveSAN,
		LastMoveAt:    rec.LastMoveAt,
	}
}

// moveInfo labels the applied ply with the color that played it. The
// turn has already flipped, so the mover is the opposite color.
func moveInfo(res match.MoveResult) core.MoveInfo {
	return core.MoveInfo{
		SAN:   res.Move.SAN,
		UCI:   res.Move.UCI(),
		Color: string(core.OppositeColor(res.Status.Turn)),
	}
}
