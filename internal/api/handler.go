// Package api is the HTTP command surface of the game.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/babyguess/internal/errs"
	"github.com/kiliankoe/babyguess/internal/game"
	"github.com/kiliankoe/babyguess/internal/model"
)

// Game is the set of commands the HTTP API exposes.
type Game interface {
	Join(ctx context.Context, name string, rejoin bool) (game.JoinResult, error)
	Heartbeat(ctx context.Context, name string) error
	StartGame(ctx context.Context, prompts []model.Prompt, secondsPerRound int) (game.StartResult, error)
	SubmitVote(ctx context.Context, name, answer string, round int) (game.VoteResult, error)
	ForceAdvance(ctx context.Context, round int) (game.AdvanceResult, error)
	RemovePlayer(ctx context.Context, name string) ([]model.Player, error)
	ResetGame(ctx context.Context, kind model.ResetKind) ([]string, error)
	State(ctx context.Context) (game.Snapshot, error)
}

type GameHandler struct {
	game Game
}

func NewGameHandler(g Game) *GameHandler {
	return &GameHandler{game: g}
}

type joinRequest struct {
	Name   string `json:"name" binding:"required"`
	Rejoin bool   `json:"rejoin"`
}

type voteRequest struct {
	Name   string `json:"name" binding:"required"`
	Answer string `json:"answer" binding:"required"`
	Round  int    `json:"round" binding:"min=0"`
}

type startRequest struct {
	Prompts         []model.Prompt `json:"prompts"`
	SecondsPerRound int            `json:"secondsPerRound" binding:"min=0"`
}

type advanceRequest struct {
	Round int `json:"round" binding:"required,min=1"`
}

type resetRequest struct {
	Kind model.ResetKind `json:"kind"`
}

// State godoc
// GET /api/state
func (h *GameHandler) State(c *gin.Context) {
	snap, err := h.game.State(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Join godoc
// POST /api/players
func (h *GameHandler) Join(c *gin.Context) {
	var req joinRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.game.Join(c.Request.Context(), req.Name, req.Rejoin)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Rejoin {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// Leave godoc
// DELETE /api/players/:name
func (h *GameHandler) Leave(c *gin.Context) {
	remaining, err := h.game.RemovePlayer(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": remaining})
}

// Heartbeat godoc
// POST /api/players/:name/heartbeat
func (h *GameHandler) Heartbeat(c *gin.Context) {
	if err := h.game.Heartbeat(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Vote godoc
// POST /api/votes
func (h *GameHandler) Vote(c *gin.Context) {
	var req voteRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.game.SubmitVote(c.Request.Context(), req.Name, req.Answer, req.Round)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Start godoc
// POST /api/admin/start
func (h *GameHandler) Start(c *gin.Context) {
	var req startRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.game.StartGame(c.Request.Context(), req.Prompts, req.SecondsPerRound)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Advance godoc
// POST /api/admin/advance
func (h *GameHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.game.ForceAdvance(c.Request.Context(), req.Round)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reset godoc
// POST /api/admin/reset
func (h *GameHandler) Reset(c *gin.Context) {
	var req resetRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = model.ResetSoft
	}
	cleared, err := h.game.ResetGame(c.Request.Context(), req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "cleared": cleared})
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, errs.Reject(errs.ErrInvalidRequest, "%s", err.Error()))
		return false
	}
	return true
}

func statusOf(code errs.Code) int {
	switch code {
	case errs.CodeInvalidName, errs.CodeInvalidRequest, errs.CodeNoPlayers, errs.CodeNoPrompts:
		return http.StatusBadRequest
	case errs.CodeUnknownPlayer:
		return http.StatusNotFound
	case errs.CodeNameTaken, errs.CodeGameInProgress, errs.CodeNoActiveGame,
		errs.CodeAlreadyVoted, errs.CodeRoundMismatch, errs.CodeRoundClosed:
		return http.StatusConflict
	case errs.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders {"error": {"code", "message"}}. Only rejections carry
// their own message; faults are logged and reported generically.
func writeError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	message := "internal error"
	var r *errs.Rejection
	switch {
	case errors.As(err, &r):
		message = r.Message
	case code == errs.CodeStoreUnavailable:
		message = "game state is temporarily unavailable"
		log.Error().Err(err).Str("path", c.FullPath()).Msg("store unavailable")
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(statusOf(code), gin.H{"error": gin.H{"code": code, "message": message}})
}
