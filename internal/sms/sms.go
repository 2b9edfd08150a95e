// Package sms is the text-message half of the telephony/SMS adapter:
// an outbound Send plus an inbound reply webhook that routes a YES/NO
// reply to the assignment arbiter.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

type Config struct {
	ListenAddress string
	Port          int
	SendBaseURL   string
	ReplyWindow   time.Duration
}

type Client struct {
	http *http.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	return &Client{http: &http.Client{Timeout: 10 * time.Second}, cfg: cfg}
}

// Send delivers a text message to a phone number already in E.164
// form (see internal/phone).
func (c *Client) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to marshal SMS payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SendBaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to build SMS request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to send SMS")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apperr.New(apperr.ErrBackendUnavailable, fmt.Sprintf("SMS provider returned %d", resp.StatusCode))
	}

	logger.WithContext(ctx).WithField("to", to).Debug("SMS sent")
	return nil
}

// InboundReply is one inbound-reply webhook payload.
type InboundReply struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// ReplyHandler routes an inbound reply to the assignment arbiter. It
// is injected from cmd/shiftcoverd to avoid an import cycle.
type ReplyHandler func(ctx context.Context, reply InboundReply) error

type Server struct {
	cfg        Config
	handler    ReplyHandler
	httpServer *http.Server
}

func NewServer(cfg Config, handler ReplyHandler) *Server {
	s := &Server{cfg: cfg, handler: handler}

	router := mux.NewRouter()
	router.HandleFunc("/webhook/sms", s.handleReply).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port),
		Handler: router,
	}
	return s
}

func (s *Server) Start() error {
	logger.WithField("addr", s.httpServer.Addr).Info("SMS webhook server started")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return apperr.Wrap(err, apperr.ErrFatal, "SMS webhook server failed")
	}
	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var reply InboundReply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.handler(r.Context(), reply); err != nil {
		logger.WithContext(r.Context()).WithError(err).WithField("from", reply.From).Warn("SMS reply handling failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
