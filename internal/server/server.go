package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/internal/negotiation"
	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/models"
)

// Ledger is the durable record the server reads contracts and archived
// sessions from.
type Ledger interface {
	GetContract(ctx context.Context, id string) (*models.Contract, error)
	ListContracts(ctx context.Context, requester string, limit int) ([]models.Contract, error)
	UpdateContractStatus(ctx context.Context, id string, next models.ContractStatus) (*models.Contract, error)
	GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error)
}

// Server exposes the negotiation engine over HTTP. The orchestrator is
// resolved per request so that config reloads are picked up.
type Server struct {
	orchestrator func() *negotiation.Orchestrator
	ledger       func() Ledger
	upgrader     websocket.Upgrader
	router       chi.Router
}

func New(orchestrator func() *negotiation.Orchestrator, ledger func() Ledger) *Server {
	if ledger == nil {
		ledger = func() Ledger { return nil }
	}
	s := &Server{
		orchestrator: orchestrator,
		ledger:       ledger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().UTC()})
	})
	r.Get("/ws/negotiate", s.handleWebSocket)

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Get("/agents", s.handleListAgents)
		api.Get("/agents/{agent_id}", s.handleGetAgent)
		api.Post("/negotiate", s.handleNegotiate)
		api.Get("/sessions", s.handleListSessions)
		api.Get("/sessions/{session_id}", s.handleGetSession)
		api.Get("/sessions/{session_id}/contract", s.handleSessionContract)
		api.Post("/offers/{requester_id}", s.handleSubmitOffer)

		api.Get("/contracts", s.handleListContracts)
		api.Get("/contracts/{contract_id}", s.handleGetContract)
		api.Post("/contracts/{contract_id}/activate", s.handleContractStatus(models.ContractActive))
		api.Post("/contracts/{contract_id}/expire", s.handleContractStatus(models.ContractExpired))
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		observability.Logger().Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": s.orchestrator().Status()})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.orchestrator().ListAgents()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "agents": agents, "count": len(agents)})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.orchestrator().GetAgent(chi.URLParam(r, "agent_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "agent": agent})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.orchestrator().ListSessions()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": sessions, "count": len(sessions)})
}

// handleGetSession serves live sessions first and falls back to the archive.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	snap, err := s.orchestrator().GetSession(id)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": snap})
		return
	}
	if ledger := s.ledger(); ledger != nil && errors.Is(err, models.ErrNotFound) {
		archived, aerr := ledger.GetSession(r.Context(), id)
		if aerr != nil {
			writeError(w, aerr)
			return
		}
		if archived != nil {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": archived, "archived": true})
			return
		}
	}
	writeError(w, err)
}

func (s *Server) handleSessionContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.orchestrator().Contract(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contract": c})
}

type offerBody struct {
	OfferID        string          `json:"offer_id"`
	HospitalID     string          `json:"hospital_id"`
	HospitalName   string          `json:"hospital_name"`
	ResourceType   string          `json:"resource_type"`
	Quantity       int             `json:"quantity"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit"`
	AvailableFrom  time.Time       `json:"available_from"`
	AvailableUntil time.Time       `json:"available_until"`
	Conditions     []string        `json:"conditions"`
	Confidence     int             `json:"confidence"`
	Reasoning      string          `json:"reasoning"`
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var body offerBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	kind, err := models.ParseResourceKind(body.ResourceType)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.orchestrator().SubmitOffer(r.Context(), chi.URLParam(r, "requester_id"), models.ResourceOffer{
		ID:             body.OfferID,
		PartyID:        body.HospitalID,
		PartyName:      body.HospitalName,
		Resource:       kind,
		Quantity:       body.Quantity,
		PricePerUnit:   body.PricePerUnit,
		AvailableFrom:  body.AvailableFrom,
		AvailableUntil: body.AvailableUntil,
		Conditions:     body.Conditions,
		Confidence:     body.Confidence,
		Reasoning:      body.Reasoning,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "offer": offer})
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	ledger := s.ledger()
	if ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("ledger is not configured"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	contracts, err := ledger.ListContracts(r.Context(), r.URL.Query().Get("requester"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contracts": contracts, "count": len(contracts)})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	ledger := s.ledger()
	if ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("ledger is not configured"))
		return
	}
	id := chi.URLParam(r, "contract_id")
	c, err := ledger.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeError(w, fmt.Errorf("%w: contract %s", models.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contract": c})
}

func (s *Server) handleContractStatus(next models.ContractStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ledger := s.ledger()
		if ledger == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("ledger is not configured"))
			return
		}
		c, err := ledger.UpdateContractStatus(r.Context(), chi.URLParam(r, "contract_id"), next)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "contract": c})
	}
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: bad json: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Logger().Warn("write response failed", "error", err)
	}
}

func errorBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
