// ABOUTME: HTTP API server for the operation hub
// ABOUTME: Exposes dispatch, thread query, directory upserts, and health endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/ophub/internal/auth"
	"github.com/2389/ophub/internal/hub"
	"github.com/2389/ophub/internal/store"
)

// Config carries the server's wiring.
type Config struct {
	Addr     string
	Verifier auth.TokenVerifier // nil disables auth (tests, local dev)

	// Token minting: callers presenting the bootstrap token can mint an
	// API JWT without already holding one. Both must be set to enable
	// the endpoint.
	TokenMinter        *auth.JWTVerifier
	BootstrapTokenHash string // bcrypt hash of the bootstrap token
}

// Server is the HTTP front of the hub. Directory writes go straight to
// the store; dispatch and thread reads go through the hub.
type Server struct {
	hub    *hub.Hub
	store  store.Store
	cfg    Config
	logger *slog.Logger

	httpServer *http.Server
}

// New creates the API server.
func New(h *hub.Hub, st store.Store, cfg Config) *Server {
	s := &Server{
		hub:    h,
		store:  st,
		cfg:    cfg,
		logger: slog.Default().With("component", "gateway"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/ask", s.handleAsk)
	api.HandleFunc("GET /api/threads/{session_uuid}/{thread_id}", s.handleGetThread)
	api.HandleFunc("POST /api/coordinations", s.handleUpsertCoordination)
	api.HandleFunc("POST /api/agents", s.handleUpsertAgent)
	api.HandleFunc("POST /api/connections", s.handleUpsertConnection)

	var protected http.Handler = api
	if s.cfg.Verifier != nil {
		protected = auth.HTTPAuthMiddleware(s.cfg.Verifier)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	// Token minting sits outside the auth middleware: its callers have a
	// bootstrap token, not yet a JWT.
	if s.cfg.TokenMinter != nil && s.cfg.BootstrapTokenHash != "" {
		mux.HandleFunc("POST /api/tokens", s.handleMintToken)
	}
	mux.Handle("/api/", protected)
	return mux
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintTokenRequest struct {
	BootstrapToken string `json:"bootstrap_token"`
	Subject        string `json:"subject"`
	TTL            string `json:"ttl,omitempty"`
}

// handleMintToken exchanges the bootstrap token for an API JWT. The
// bootstrap token is never stored in the clear; only its bcrypt hash is
// configured.
func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req mintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BootstrapToken == "" || req.Subject == "" {
		respondError(w, http.StatusBadRequest, "bootstrap_token and subject are required")
		return
	}

	ttl := 30 * 24 * time.Hour
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}

	if !auth.CheckTokenHash(s.cfg.BootstrapTokenHash, req.BootstrapToken) {
		s.logger.Warn("token mint rejected", "subject", req.Subject)
		respondError(w, http.StatusUnauthorized, "invalid bootstrap token")
		return
	}

	token, err := s.cfg.TokenMinter.Generate(req.Subject, ttl)
	if err != nil {
		s.logger.Error("token mint failed", "subject", req.Subject, "error", err)
		respondError(w, http.StatusInternalServerError, "token mint failed")
		return
	}

	s.logger.Info("api token minted", "subject", req.Subject, "ttl", ttl)
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// threadResponse is the wire shape of a thread snapshot.
type threadResponse struct {
	SessionUUID          string `json:"session_uuid"`
	ThreadID             string `json:"thread_id"`
	AgentUUID            string `json:"agent_uuid,omitempty"`
	AgentName            string `json:"agent_name,omitempty"`
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
	Status               string `json:"status"`
	Log                  string `json:"log,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req hub.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.hub.Dispatch(r.Context(), &req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("dispatch failed", "coordination_uuid", req.CoordinationUUID, "error", err)
		respondError(w, http.StatusBadGateway, "dispatch failed")
		return
	}

	resp := threadResponse{
		SessionUUID:          res.SessionUUID,
		ThreadID:             res.ThreadID,
		LastAssistantMessage: res.LastAssistantMessage,
		Status:               res.Status,
		Log:                  res.Log,
	}
	if res.Agent != nil {
		resp.AgentUUID = res.Agent.AgentUUID
		resp.AgentName = res.Agent.AgentName
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	sessionUUID := r.PathValue("session_uuid")
	threadID := r.PathValue("thread_id")

	th, err := s.hub.GetThread(r.Context(), sessionUUID, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.logger.Error("thread lookup failed", "session_uuid", sessionUUID, "thread_id", threadID, "error", err)
		respondError(w, http.StatusInternalServerError, "thread lookup failed")
		return
	}

	resp := threadResponse{
		SessionUUID:          th.SessionUUID,
		ThreadID:             th.ThreadID,
		AgentUUID:            th.AgentUUID,
		LastAssistantMessage: th.LastAssistantMessage,
		Status:               th.Status,
		Log:                  th.Log,
	}
	if th.Agent != nil {
		resp.AgentName = th.Agent.AgentName
	}
	respondJSON(w, http.StatusOK, resp)
}

type coordinationRequest struct {
	CoordinationType       string `json:"coordination_type"`
	CoordinationUUID       string `json:"coordination_uuid"`
	AssistantType          string `json:"assistant_type"`
	AssistantID            string `json:"assistant_id"`
	AdditionalInstructions string `json:"additional_instructions,omitempty"`
}

func (s *Server) handleUpsertCoordination(w http.ResponseWriter, r *http.Request) {
	var req coordinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CoordinationType == "" || req.CoordinationUUID == "" || req.AssistantID == "" {
		respondError(w, http.StatusBadRequest, "coordination_type, coordination_uuid and assistant_id are required")
		return
	}

	err := s.store.UpsertCoordination(r.Context(), &store.Coordination{
		CoordinationType:       req.CoordinationType,
		CoordinationUUID:       req.CoordinationUUID,
		AssistantType:          req.AssistantType,
		AssistantID:            req.AssistantID,
		AdditionalInstructions: req.AdditionalInstructions,
		UpdatedBy:              subjectOr(r, "api"),
	})
	if err != nil {
		s.logger.Error("coordination upsert failed", "coordination_uuid", req.CoordinationUUID, "error", err)
		respondError(w, http.StatusInternalServerError, "coordination upsert failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"coordination_uuid": req.CoordinationUUID})
}

type agentRequest struct {
	AgentUUID      string `json:"agent_uuid"`
	AgentName      string `json:"agent_name"`
	Instructions   string `json:"instructions,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	JSONSchema     string `json:"json_schema,omitempty"`
	Tools          string `json:"tools,omitempty"`
}

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentUUID == "" {
		respondError(w, http.StatusBadRequest, "agent_uuid is required")
		return
	}

	err := s.store.UpsertAgent(r.Context(), &store.Agent{
		AgentUUID:      req.AgentUUID,
		AgentName:      req.AgentName,
		Instructions:   req.Instructions,
		ResponseFormat: req.ResponseFormat,
		JSONSchema:     req.JSONSchema,
		Tools:          req.Tools,
		UpdatedBy:      subjectOr(r, "api"),
	})
	if err != nil {
		s.logger.Error("agent upsert failed", "agent_uuid", req.AgentUUID, "error", err)
		respondError(w, http.StatusInternalServerError, "agent upsert failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"agent_uuid": req.AgentUUID})
}

type connectionRequest struct {
	ConnectionID string `json:"connection_id"`
	Address      string `json:"address"`
	Status       string `json:"status,omitempty"`
}

func (s *Server) handleUpsertConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConnectionID == "" || req.Address == "" {
		respondError(w, http.StatusBadRequest, "connection_id and address are required")
		return
	}
	if req.Status != "" && req.Status != store.ConnectionActive && req.Status != store.ConnectionClosed {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown connection status %q", req.Status))
		return
	}

	err := s.store.UpsertConnection(r.Context(), &store.Connection{
		ConnectionID: req.ConnectionID,
		Address:      req.Address,
		Status:       req.Status,
	})
	if err != nil {
		s.logger.Error("connection upsert failed", "connection_id", req.ConnectionID, "error", err)
		respondError(w, http.StatusInternalServerError, "connection upsert failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"connection_id": req.ConnectionID})
}

// subjectOr returns the authenticated subject or a fallback when the
// server runs unauthenticated.
func subjectOr(r *http.Request, fallback string) string {
	if subject, ok := auth.SubjectFromContext(r.Context()); ok {
		return subject
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
