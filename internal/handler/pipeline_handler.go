package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/pipeline"
	"github.com/sentrygrid/coreplane/internal/supervisor"
)

// PipelineHandler implements spec §6's /pipeline/* operator surface. Every
// response is a direct projection of the supervisor's and pipeline's own
// live state, never a synthesized value.
type PipelineHandler struct {
	supervisor *supervisor.Supervisor
	pipe       *pipeline.Pipeline
	logger     zerolog.Logger
}

// NewPipelineHandler creates a pipeline handler.
func NewPipelineHandler(sup *supervisor.Supervisor, pipe *pipeline.Pipeline, logger zerolog.Logger) *PipelineHandler {
	return &PipelineHandler{supervisor: sup, pipe: pipe, logger: logger}
}

// Status handles GET /pipeline/status.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.supervisor.Health())
}

// Metrics handles GET /pipeline/metrics.
func (h *PipelineHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	stats := h.pipe.GetStats()
	WriteSuccess(w, map[string]interface{}{
		"events_per_second":     stats.EventsPerSecond,
		"processing_latency_ms": stats.ProcessingLatencyMs,
		"queue_depth":           stats.QueueDepth,
		"queue_capacity":        h.pipe.QueueCapacity(),
		"total_processed":       stats.TotalProcessed,
		"error_rate_percent":    stats.ErrorRatePercent,
	})
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop handles POST /pipeline/emergency/stop (spec §4.9, scenario S6).
func (h *PipelineHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator requested emergency stop"
	}
	h.supervisor.EmergencyStop(r.Context(), req.Reason)
	WriteSuccess(w, map[string]string{"status": "stopped"})
}

type emergencyIsolateRequest struct {
	AgentIDs []string `json:"agent_ids"`
	Reason   string   `json:"reason"`
}

// EmergencyIsolate handles POST /pipeline/emergency/isolate.
func (h *PipelineHandler) EmergencyIsolate(w http.ResponseWriter, r *http.Request) {
	var req emergencyIsolateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if len(req.AgentIDs) == 0 {
		WriteError(w, http.StatusBadRequest, "validation", "agent_ids must be non-empty")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.AgentIDs))
	for _, raw := range req.AgentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation", "agent_ids must all be uuids")
			return
		}
		ids = append(ids, id)
	}
	if req.Reason == "" {
		req.Reason = "operator requested emergency isolation"
	}

	h.supervisor.EmergencyIsolate(r.Context(), ids, req.Reason)
	WriteSuccess(w, map[string]string{"status": "isolated"})
}
