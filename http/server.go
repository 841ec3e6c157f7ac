// Package http exposes the payment workflow runners over a REST API.
// It is a thin layer: every handler validates its input, calls into the
// core with its public contract, and maps FlowError codes onto HTTP
// statuses. No workflow decision lives here.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentwallet/payflow"
)

// Server wires the workflow runners into a gin engine.
type Server struct {
	sessions  *payflow.SessionRunner
	batches   *payflow.BatchRunner
	scheduler *payflow.Scheduler
}

// NewServer creates a server over the given runners.
func NewServer(sessions *payflow.SessionRunner, batches *payflow.BatchRunner, scheduler *payflow.Scheduler) *Server {
	return &Server{
		sessions:  sessions,
		batches:   batches,
		scheduler: scheduler,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(corsMiddleware())

	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)

	agent := router.Group("/agent")
	{
		agent.POST("/start", s.handleStartSession)
		agent.GET("/status/:id", s.handleSessionStatus)
		agent.POST("/approve", s.handleApprove)
		agent.POST("/confirm", s.handleConfirm)
		agent.POST("/negotiate", s.handleNegotiate)
		agent.DELETE("/session/:id", s.handleCancelSession)
	}

	batch := router.Group("/batch")
	{
		batch.POST("/start", s.handleStartBatch)
		batch.GET("/status/:id", s.handleBatchStatus)
		batch.POST("/approve", s.handleBatchApprove)
		batch.POST("/confirm", s.handleBatchConfirm)
	}

	schedule := router.Group("/schedule")
	{
		schedule.POST("", s.handleAddSchedule)
		schedule.GET("/:payer", s.handleListSchedule)
		schedule.POST("/run", s.handleRunCycle)
		schedule.DELETE("/:payer/:id", s.handleCancelSchedule)
	}

	return router
}

// corsMiddleware allows browser frontends on any origin to drive the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "payflow",
		"status":    "running",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_sessions": s.sessions.Len(),
		"active_batches":  s.batches.Len(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// ============================================================================
// Single-payment sessions
// ============================================================================

// StartSessionRequest begins a single-payment session.
type StartSessionRequest struct {
	Payer     string `json:"user_address" binding:"required"`
	TargetURL string `json:"target_url" binding:"required"`
	TaskKind  string `json:"task_type"`
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateStartSession(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := s.sessions.Start(c.Request.Context(), "", req.Payer, req.TargetURL, payflow.TaskKind(req.TaskKind))
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	session := s.sessions.Get(c.Param("id"))
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// SessionRequest targets an existing session.
type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (s *Server) handleApprove(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.sessions.Approve(req.SessionID)
	if err != nil {
		writeFlowError(c, err, session)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ConfirmRequest reports the externally observed transfer outcome.
type ConfirmRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	SettlementRef string `json:"tx_hash" binding:"required"`
	Success       *bool  `json:"success"`
}

func (s *Server) handleConfirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	session, err := s.sessions.Confirm(req.SessionID, req.SettlementRef, success)
	if err != nil {
		writeFlowError(c, err, session)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleNegotiate(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.sessions.Negotiate(c.Request.Context(), req.SessionID)
	if err != nil {
		writeFlowError(c, err, session)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleCancelSession(c *gin.Context) {
	id := c.Param("id")
	if !s.sessions.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "session_id": id})
}

// ============================================================================
// Batch sessions
// ============================================================================

// StartBatchRequest begins a batch-payment session.
type StartBatchRequest struct {
	Payer string               `json:"user_address" binding:"required"`
	Legs  []payflow.PaymentLeg `json:"payments" binding:"required"`
}

func (s *Server) handleStartBatch(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := validateStartBatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := s.batches.StartBatch("", req.Payer, req.Legs)
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	session := s.batches.Get(c.Param("id"))
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleBatchApprove(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.batches.ApproveAndExecute(req.SessionID)
	if err != nil {
		writeFlowError(c, err, session)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ConfirmLegRequest reports one leg's transfer outcome.
type ConfirmLegRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	Index         *int   `json:"payment_index" binding:"required"`
	SettlementRef string `json:"tx_hash"`
	Success       *bool  `json:"success"`
}

func (s *Server) handleBatchConfirm(c *gin.Context) {
	var req ConfirmLegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	session, err := s.batches.ConfirmLeg(req.SessionID, *req.Index, req.SettlementRef, success)
	if err != nil {
		writeFlowError(c, err, session)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ============================================================================
// Scheduled payments
// ============================================================================

// AddScheduleRequest registers a scheduled payment definition.
type AddScheduleRequest struct {
	Payer     string `json:"user_address" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Token     string `json:"token"`
	Kind      string `json:"schedule_type"`
	// RFC 3339; optional.
	ExecuteAt string `json:"execute_at"`
	// Seconds; optional.
	IntervalSeconds int64 `json:"recurring_interval_seconds"`
}

func (s *Server) handleAddSchedule(c *gin.Context) {
	var req AddScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, executeAt, err := validateAddSchedule(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := s.scheduler.Add(req.Payer, req.Recipient, req.Amount, req.Token, kind,
		executeAt, time.Duration(req.IntervalSeconds)*time.Second)
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleListSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scheduled_payments": s.scheduler.List(c.Param("payer"))})
}

// RunCycleRequest triggers one scheduler cycle for a payer.
type RunCycleRequest struct {
	Payer string `json:"user_address" binding:"required"`
}

func (s *Server) handleRunCycle(c *gin.Context) {
	var req RunCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.RunCycle(req.Payer))
}

func (s *Server) handleCancelSchedule(c *gin.Context) {
	payer := c.Param("payer")
	id := c.Param("id")
	if !s.scheduler.Cancel(payer, id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule entry not found or not pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "id": id})
}

// ============================================================================
// Error mapping
// ============================================================================

// writeFlowError maps a FlowError onto an HTTP status. When the core
// returned a snapshot alongside the rejection it is included so clients
// can see the unchanged state.
func writeFlowError[T any](c *gin.Context, err error, snapshot *T) {
	status := http.StatusInternalServerError
	if flowErr, ok := err.(*payflow.FlowError); ok {
		switch flowErr.Code {
		case payflow.ErrCodeNotFound:
			status = http.StatusNotFound
		case payflow.ErrCodeInvalidState:
			status = http.StatusConflict
		}
	}

	body := gin.H{"error": err.Error()}
	if snapshot != nil {
		body["session"] = snapshot
	}
	c.JSON(status, body)
}
