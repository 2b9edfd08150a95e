package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

type ServerConfig struct {
	ListenAddress   string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// InboundEvent is the decoded body of every inbound webhook call:
// the initial call-start, a speech/DTMF gather result, or a terminal
// event (answered/no-answer/hangup) for an outbound leg placed via
// Client.PlaceCall.
type InboundEvent struct {
	CallID      string `json:"callId"`
	EventType   string `json:"eventType"` // "start", "speech", "dtmf", "answered", "no-answer", "hangup"
	CallerPhone string `json:"callerPhone,omitempty"`
	ToNumber    string `json:"toNumber,omitempty"`
	SpeechText  string `json:"speechText,omitempty"`
	Digits      string `json:"digits,omitempty"`
}

// Dispatcher processes one inbound event for the call flow. It is
// injected from cmd/shiftcoverd to avoid internal/telephony importing
// internal/callflow.
type Dispatcher func(ctx context.Context, event InboundEvent) error

// Server is the inbound half of the telephony adapter: an HTTP
// webhook receiver with the same connection-tracking, idle-timeout,
// and graceful-shutdown shape as a long-lived socket server, adapted
// to per-request HTTP handling instead of a persistent TCP session.
type Server struct {
	cfg        ServerConfig
	client     *Client
	dispatch   Dispatcher
	httpServer *http.Server

	mu           sync.RWMutex
	lastEventAt  map[string]time.Time
	shuttingDown atomic.Bool
	requestCount atomic.Int64
}

func NewServer(cfg ServerConfig, client *Client, dispatch Dispatcher) *Server {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:         cfg,
		client:      client,
		dispatch:    dispatch,
		lastEventAt: make(map[string]time.Time),
	}

	router := mux.NewRouter()
	router.HandleFunc("/webhook/call", s.handleEvent).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) Start() error {
	logger.WithField("addr", s.httpServer.Addr).Info("telephony webhook server started")
	go s.idleSweeper()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return apperr.Wrap(err, apperr.ErrFatal, "telephony webhook server failed")
	}
	return nil
}

func (s *Server) Stop() error {
	s.shuttingDown.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// idleSweeper forgets calls that haven't sent an event in IdleTimeout,
// the webhook-server analogue of the socket server's per-connection
// idle disconnect — there is no connection to close here, only
// bookkeeping to drop, since the call's own session TTL in Redis is
// what actually reclaims storage.
func (s *Server) idleSweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if s.shuttingDown.Load() {
			return
		}
		cutoff := time.Now().Add(-s.cfg.IdleTimeout)

		s.mu.Lock()
		for callID, last := range s.lastEventAt {
			if last.Before(cutoff) {
				delete(s.lastEventAt, callID)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)

	var event InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if event.CallID == "" {
		http.Error(w, "missing callId", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lastEventAt[event.CallID] = time.Now()
	s.mu.Unlock()

	ctx := r.Context()

	switch event.EventType {
	case "answered", "no-answer":
		// These outcomes belong to an outbound leg awaited via
		// Client.AwaitEvent, not the inbound call flow.
		s.client.ResolveEvent(CallEvent{CallID: event.CallID, Type: event.EventType})
		w.WriteHeader(http.StatusOK)
		return
	case "hangup":
		// A hangup can end an awaited outbound leg or an inbound call,
		// so it is resolved here and also dispatched to the call flow.
		s.client.ResolveEvent(CallEvent{CallID: event.CallID, Type: event.EventType})
	case "dtmf":
		s.client.ResolveEvent(CallEvent{CallID: event.CallID, Type: "dtmf", Digits: event.Digits})
	}

	if err := s.dispatch(ctx, event); err != nil {
		logger.WithContext(ctx).WithError(err).WithField("callId", event.CallID).Warn("call flow dispatch failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
