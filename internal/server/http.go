package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/cosmicduel/duel-server/internal/lobby"
	"github.com/cosmicduel/duel-server/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// Router serves the lobby REST API and the realtime websocket endpoint
type Router struct {
	lobby    *lobby.Service
	gateway  *realtime.Gateway
	catalog  *card.Catalog
	ws       config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRouter creates the HTTP surface of the server
func NewRouter(l *lobby.Service, gw *realtime.Gateway, catalog *card.Catalog, ws config.WebSocketConfig, logger *zap.Logger) *Router {
	r := &Router{
		lobby:   l,
		gateway: gw,
		catalog: catalog,
		ws:      ws,
		logger:  logger,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// Handler builds the gin engine
func (r *Router) Handler() *gin.Engine {
	engine := gin.New()
	engine.Use(recovery(r.logger), requestLogger(r.logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/ws/:gameId", r.serveWS)

	api := engine.Group("/api")
	api.GET("/cards", r.listCards)
	api.POST("/games", r.createGame)
	api.GET("/games/:id", r.getGame)
	api.GET("/games/:id/actions", r.listActions)
	api.GET("/games/:id/replay", r.getReplay)
	api.POST("/games/:id/join", r.joinGame)
	api.POST("/games/:id/cancel", r.cancelGame)

	return engine
}

type playerRequest struct {
	PlayerAddress string `json:"playerAddress"`
	StakeAmount   int64  `json:"stakeAmount"`
}

func (r *Router) createGame(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	session, err := r.lobby.CreateGame(c.Request.Context(), req.PlayerAddress, req.StakeAmount)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"gameId":      session.ID.String(),
		"status":      "waiting_for_opponent",
		"stakeAmount": session.StakeAmount,
	})
}

func (r *Router) joinGame(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	session, err := r.lobby.JoinGame(c.Request.Context(), c.Param("id"), req.PlayerAddress)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"gameId":      session.ID.String(),
		"status":      "game_started",
		"players":     session.Players(),
		"stakeAmount": session.StakeAmount,
	})
}

func (r *Router) cancelGame(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := r.lobby.CancelGame(c.Request.Context(), c.Param("id"), req.PlayerAddress); err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gameId": c.Param("id"), "status": "cancelled"})
}

func (r *Router) getGame(c *gin.Context) {
	summary, err := r.lobby.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (r *Router) getReplay(c *gin.Context) {
	replay, err := r.lobby.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

func (r *Router) listActions(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	actions, err := r.lobby.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (r *Router) listCards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cards": r.catalog.All()})
}

// serveWS upgrades the request and runs the client until it disconnects. The
// player query parameter binds the connection to a seat.
func (r *Router) serveWS(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := realtime.NewClient(c.Param("gameId"), c.Query("player"), conn, r.ws.SendQueueSize)
	client.Serve(c.Request.Context(), r.gateway, r.ws)
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if len(r.ws.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	for _, allowed := range r.ws.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (r *Router) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		err = errors.New("internal error")
	}
	writeError(c, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lobby.ErrMissingPlayer),
		errors.Is(err, lobby.ErrInvalidStake),
		errors.Is(err, lobby.ErrInsufficientBalance),
		errors.Is(err, lobby.ErrOwnGame):
		return http.StatusBadRequest
	case errors.Is(err, lobby.ErrNotCreator):
		return http.StatusForbidden
	case errors.Is(err, lobby.ErrGameNotFound),
		errors.Is(err, lobby.ErrGameUnavailable),
		errors.Is(err, lobby.ErrReplayNotFound):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrGameNotFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// requestLogger logs each request after it completes
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

// recovery converts handler panics into 500 responses
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic in http handler",
					zap.Any("panic", p),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}
