package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/presence"
	"github.com/pdutra/cardex/internal/stream"
	"github.com/pdutra/cardex/internal/trade"
	"github.com/pdutra/cardex/internal/tradesession"
	"go.uber.org/zap"
)

// API serves the daemon's local HTTP surface for the UI process.
type API struct {
	offers   *trade.Service
	sessions *tradesession.Coordinator
	stream   *stream.Stream
	presence *presence.Tracker
	bus      *bus.Bus
	logger   *zap.Logger

	profile   string
	userID    string
	connected func() bool
	startedAt time.Time
}

// Options carries the identity and status callbacks the API reports.
type Options struct {
	Profile   string
	UserID    string
	Connected func() bool
}

// New creates the API.
func New(offers *trade.Service, sessions *tradesession.Coordinator, st *stream.Stream, p *presence.Tracker, eventBus *bus.Bus, opts Options, logger *zap.Logger) *API {
	return &API{
		offers:    offers,
		sessions:  sessions,
		stream:    st,
		presence:  p,
		bus:       eventBus,
		logger:    logger,
		profile:   opts.Profile,
		userID:    opts.UserID,
		connected: opts.Connected,
		startedAt: time.Now(),
	}
}

// Router builds the gin engine with all routes mounted.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(a.requestLogger(), gin.Recovery())

	v1 := r.Group("/v1")
	v1.GET("/status", a.getStatus)
	v1.GET("/events", a.watchEvents)
	v1.GET("/trades", a.listTrades)
	v1.GET("/trades/:id", a.getTrade)
	v1.POST("/trades/:id/respond", a.respond)
	v1.POST("/trades/:id/session", a.openSession)
	v1.DELETE("/trades/:id/session", a.closeSession)
	v1.GET("/trades/:id/session", a.getSession)
	v1.GET("/trades/:id/messages", a.listMessages)
	v1.POST("/trades/:id/messages", a.sendMessage)
	v1.POST("/trades/:id/typing", a.setTyping)
	return r
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (a *API) getStatus(c *gin.Context) {
	sessions := a.sessions.Sessions()
	open := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		open = append(open, gin.H{
			"trade_id":  s.TradeID,
			"state":     s.State(),
			"opened_at": s.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":    a.profile,
		"user_id":    a.userID,
		"realtime":   a.connected(),
		"started_at": a.startedAt,
		"sessions":   open,
	})
}

func (a *API) listTrades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	offers, err := a.offers.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		// Only a bad filter is the client's fault; a cache read failure
		// is ours.
		if errors.Is(err, trade.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": offers})
}

func (a *API) getTrade(c *gin.Context) {
	offer, err := a.offers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, trade.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (a *API) respond(c *gin.Context) {
	var req struct {
		Decision string `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision is required"})
		return
	}

	err := a.offers.Respond(c.Request.Context(), c.Param("id"), trade.Action(req.Decision))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"submitted": true})
	case errors.Is(err, trade.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be accept, reject or cancel"})
	case errors.Is(err, trade.ErrNotRespondable):
		// Not an error condition: the UI renders the action disabled.
		c.JSON(http.StatusConflict, gin.H{"submitted": false, "reason": "not_respondable"})
	case errors.Is(err, trade.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (a *API) openSession(c *gin.Context) {
	sess, err := a.sessions.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"trade_id": sess.TradeID,
		"state":    sess.State(),
	})
}

func (a *API) closeSession(c *gin.Context) {
	if err := a.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) getSession(c *gin.Context) {
	view, err := a.sessions.View(c.Param("id"))
	if err != nil {
		if errors.Is(err, tradesession.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) listMessages(c *gin.Context) {
	msgs, err := a.stream.List(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *API) sendMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	msg, err := a.stream.Send(c.Param("id"), req.Text)
	if err != nil {
		if errors.Is(err, stream.ErrEmptyBody) || errors.Is(err, stream.ErrBodyTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (a *API) setTyping(c *gin.Context) {
	var req struct {
		IsTyping *bool `json:"is_typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_typing is required"})
		return
	}

	if err := a.presence.SetTyping(c.Request.Context(), c.Param("id"), *req.IsTyping); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// watchEvents streams bus events to the client as newline-delimited JSON.
// Each event gets a unique id so reconnecting clients can spot gaps.
func (a *API) watchEvents(c *gin.Context) {
	events, unsub := a.bus.Subscribe("", 64)
	defer unsub()

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-events:
			if !ok {
				return false
			}
			_ = enc.Encode(gin.H{
				"id":        uuid.NewString(),
				"kind":      evt.Kind,
				"trade_id":  evt.TradeID,
				"timestamp": evt.Timestamp,
			})
			return true
		}
	})
}
