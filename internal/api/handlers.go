// Package api is the agent's HTTP surface: a Gin router exposing
// POST /ingest, POST /execute, GET /health, and GET /metrics, mirroring
// the teacher's Handler-struct-plus-Register(router) shape.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edge-agent/internal/orchestrator"
	"edge-agent/internal/peers"
	"edge-agent/internal/slotclock"
)

// Handler wires the HTTP surface to the agent's components.
type Handler struct {
	nodeID      string
	nodeType    string
	slotSeconds int
	startedTS   float64

	orc   *orchestrator.Orchestrator
	peers *peers.Monitor
}

// NewHandler constructs a Handler. startedTS is the process start time in
// unix seconds, reported verbatim by /health.
func NewHandler(nodeID, nodeType string, slotSeconds int, startedTS float64, orc *orchestrator.Orchestrator, pm *peers.Monitor) *Handler {
	return &Handler{
		nodeID:      nodeID,
		nodeType:    nodeType,
		slotSeconds: slotSeconds,
		startedTS:   startedTS,
		orc:         orc,
		peers:       pm,
	}
}

// Register attaches every route to router.
func (h *Handler) Register(router *gin.Engine) {
	router.POST("/ingest", h.handleIngest)
	router.POST("/execute", h.handleExecute)
	router.GET("/health", h.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type ingestRequest struct {
	Payload   map[string]any `json:"payload"`
	TraceID   string         `json:"trace_id"`
	EventTime *float64       `json:"event_time"`
}

func (h *Handler) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eventTime := nowSeconds()
	if req.EventTime != nil {
		eventTime = *req.EventTime
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = newTraceID()
	}

	slot := slotclock.Of(eventTime, h.slotSeconds)
	item := orchestrator.IngestItem{
		Slot:      slot,
		EventTime: eventTime,
		TraceID:   traceID,
		Payload:   req.Payload,
	}

	if !h.orc.Enqueue(item) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "queue full"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted":  true,
		"slot":      slot,
		"trace_id":  traceID,
		"queue_len": h.orc.QueueLen(),
	})
}

type executeRequest struct {
	Stage   string         `json:"stage"`
	Slot    int64          `json:"slot"`
	Payload map[string]any `json:"payload"`
	TraceID string         `json:"trace_id"`
	Origin  string         `json:"origin"`
}

func (h *Handler) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Stage != "fine" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported stage: " + req.Stage})
		return
	}

	ok, result, durationMS, errStr := h.orc.ExecuteRemoteFine(c.Request.Context(), req.Slot, req.TraceID, req.Origin, req.Payload)
	if !ok {
		result = map[string]any{"error": errStr}
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          ok,
		"executed_on": h.nodeID,
		"slot":        req.Slot,
		"trace_id":    req.TraceID,
		"duration_ms": durationMS,
		"result":      result,
		"error":       errStr,
	})
}

func (h *Handler) handleHealth(c *gin.Context) {
	health := h.orc.Health()

	peerStates := map[string]peers.State{}
	if h.peers != nil {
		peerStates = h.peers.Snapshot()
	}

	c.JSON(http.StatusOK, gin.H{
		"node_id":     h.nodeID,
		"node_type":   h.nodeType,
		"started_ts":  h.startedTS,
		"active_slot": health.ActiveSlot,
		"queue_len":   health.QueueLen,
		"in_flight":   health.InFlight,
		"avg_ms":      health.AvgMS,
		"peers":       peerStates,
	})
}
