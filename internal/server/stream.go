package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/models"
)

const streamComplete = "stream_complete"

type negotiateBody struct {
	InitiatorID  string          `json:"initiator_hospital_id"`
	ResourceType string          `json:"resource_type"`
	Quantity     int             `json:"quantity"`
	Urgency      string          `json:"urgency"`
	DurationDays int             `json:"duration_days"`
	MaxBudget    decimal.Decimal `json:"max_budget"`
	Details      map[string]any  `json:"additional_details,omitempty"`
}

func (b negotiateBody) request() (negotiation.NegotiationRequest, error) {
	kind, err := models.ParseResourceKind(b.ResourceType)
	if err != nil {
		return negotiation.NegotiationRequest{}, err
	}
	urgency, err := models.ParseUrgency(b.Urgency)
	if err != nil {
		return negotiation.NegotiationRequest{}, err
	}
	return negotiation.NegotiationRequest{
		InitiatorID:  b.InitiatorID,
		Resource:     kind,
		Quantity:     b.Quantity,
		Urgency:      urgency,
		DurationDays: b.DurationDays,
		MaxBudget:    b.MaxBudget,
		Details:      b.Details,
	}, nil
}

// handleNegotiate starts a session and streams its events as server-sent
// events. A client that goes away detaches from the stream; the session
// itself runs to completion.
func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var body negotiateBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	in, err := body.request()
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}

	run, err := s.orchestrator().Start(context.WithoutCancel(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	defer run.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Session-ID", run.SessionID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			observability.Logger().Info("sse client detached", "session_id", run.SessionID())
			return
		case ev, ok := <-run.Events():
			if !ok {
				_ = writeSSE(w, map[string]any{"event": streamComplete, "session_id": run.SessionID()})
				flusher.Flush()
				return
			}
			if err := writeSSE(w, ev); err != nil {
				observability.Logger().Warn("sse write failed", "session_id", run.SessionID(), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// handleWebSocket accepts negotiation requests as JSON messages and answers
// each with the session's event stream followed by a stream_complete frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Logger().Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	for {
		var body negotiateBody
		if err := ws.ReadJSON(&body); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.Logger().Debug("websocket read ended", "error", err)
			}
			return
		}
		in, err := body.request()
		if err != nil {
			if sendErr := safeSend(ws, errorBody(err.Error())); sendErr != nil {
				return
			}
			continue
		}
		run, err := s.orchestrator().Start(context.WithoutCancel(r.Context()), in)
		if err != nil {
			if sendErr := safeSend(ws, errorBody(err.Error())); sendErr != nil {
				return
			}
			continue
		}
		if !s.relay(ws, run) {
			return
		}
	}
}

func (s *Server) relay(ws *websocket.Conn, run *negotiation.Run) bool {
	defer run.Close()
	for ev := range run.Events() {
		if err := safeSend(ws, ev); err != nil {
			return false
		}
	}
	return safeSend(ws, map[string]any{"event": streamComplete, "session_id": run.SessionID()}) == nil
}

func safeSend(ws *websocket.Conn, message any) error {
	if ws == nil {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		observability.Logger().Error("marshal websocket message failed", "error", err)
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		observability.Logger().Warn("websocket send failed", "error", err)
		return err
	}
	return nil
}
