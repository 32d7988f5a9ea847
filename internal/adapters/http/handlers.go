package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/adapters/ws"
	"github.com/dkeye/Arena/internal/app/orch"
	"github.com/dkeye/Arena/internal/domain"
)

type CreateRequest struct {
	PlayerID domain.PlayerID  `json:"player_id"`
	AssetIDs []domain.AssetID `json:"asset_ids"`
}

type CreateResponse struct {
	SessionID domain.SessionID `json:"session_id"`
}

type JoinRequest struct {
	PlayerID  domain.PlayerID  `json:"player_id"`
	SessionID domain.SessionID `json:"session_id"`
	AssetIDs  []domain.AssetID `json:"asset_ids"`
}

type JoinResponse struct {
	Accepted  bool             `json:"accepted"`
	SessionID domain.SessionID `json:"session_id"`
}

type WaitResponse struct {
	Players []domain.PlayerID `json:"players"`
}

type SessionResponse struct {
	domain.SessionInfo
	Full bool `json:"full"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type handlers struct {
	orch *orch.Orchestrator
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) createMatching(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: domain.CodeInvalidRequest, Message: "malformed body"})
		return
	}
	sid, err := h.orch.CreateMatching(req.PlayerID, req.AssetIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	remember(c, sid, req.PlayerID)
	c.JSON(http.StatusOK, CreateResponse{SessionID: sid})
}

func (h *handlers) joinMatching(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: domain.CodeInvalidRequest, Message: "malformed body"})
		return
	}
	if err := h.orch.JoinMatching(req.PlayerID, req.SessionID, req.AssetIDs); err != nil {
		writeError(c, err)
		return
	}
	remember(c, req.SessionID, req.PlayerID)
	c.JSON(http.StatusOK, JoinResponse{Accepted: true, SessionID: req.SessionID})
}

// waitMatching holds the request until the match is full or the caller's entry times out.
func (h *handlers) waitMatching(c *gin.Context) {
	sid := domain.SessionID(c.Param("session_id"))
	pid := domain.PlayerID(c.Query("player_id"))
	if pid == "" {
		if v, ok := sessions.Default(c).Get(ws.SessionKeyPlayer).(string); ok {
			pid = domain.PlayerID(v)
		}
	}
	if err := pid.Validate(); err != nil {
		writeError(c, err)
		return
	}

	players, err := h.orch.AwaitMatch(c.Request.Context(), sid, pid)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Debug().Str("module", "adapters.http").Str("session", string(sid)).Str("player", string(pid)).Msg("wait abandoned by client")
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, WaitResponse{Players: players})
}

func (h *handlers) sessionStatus(c *gin.Context) {
	info, err := h.orch.SessionStatus(domain.SessionID(c.Param("session_id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionInfo: info, Full: info.Full()})
}

func (h *handlers) listModels(c *gin.Context) {
	assets, err := h.orch.ListAssets(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list models")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

// remember stores the matchmaking identity so the websocket can be opened without query parameters.
func remember(c *gin.Context, sid domain.SessionID, pid domain.PlayerID) {
	s := sessions.Default(c)
	s.Set(ws.SessionKeySession, string(sid))
	s.Set(ws.SessionKeyPlayer, string(pid))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}
}

func writeError(c *gin.Context, err error) {
	code := domain.Code(err)
	c.JSON(statusFor(code), ErrorResponse{Code: code, Message: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeSessionNotFound:
		return http.StatusNotFound
	case domain.CodeDuplicatePlayer, domain.CodeSessionFull, domain.CodeAlreadyAttached:
		return http.StatusConflict
	case domain.CodeMatchmakingTimedOut:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
