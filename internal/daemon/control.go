// Package daemon carries control requests from the web server to the running
// daemon over the message bus.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"greenhouse/internal/conditional"
	"greenhouse/internal/mqtt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestTopic is where the daemon listens for control requests
const RequestTopic = "daemon/control/request"

// Control methods
const (
	MethodRefreshConditional   = "refresh_conditional_settings"
	MethodControllerActivate   = "controller_activate"
	MethodControllerDeactivate = "controller_deactivate"
)

// ErrTimeout is returned when the daemon does not answer in time
var ErrTimeout = errors.New("daemon did not respond")

// Request is one control call
type Request struct {
	ID       string `json:"id"`
	ReplyTo  string `json:"reply_to"`
	Method   string `json:"method"`
	UniqueID string `json:"unique_id"`
}

// Response answers the Request with the same ID
type Response struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReplyTopic is the per-client topic responses are sent to
func ReplyTopic(clientID string) string {
	return "daemon/control/reply/" + clientID
}

// Client implements conditional.DaemonControl against a remote daemon
type Client struct {
	bus     mqtt.Bus
	reply   string
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan Response
}

var _ conditional.DaemonControl = (*Client)(nil)

// NewClient subscribes to the client's reply topic
func NewClient(bus mqtt.Bus, clientID string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	c := &Client{
		bus:     bus,
		reply:   ReplyTopic(clientID),
		timeout: timeout,
		log:     log,
		pending: make(map[string]chan Response),
	}
	if err := bus.Subscribe(c.reply, c.onResponse); err != nil {
		return nil, fmt.Errorf("subscribe daemon replies: %w", err)
	}
	return c, nil
}

func (c *Client) onResponse(_ string, payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warn("bad daemon response", zap.Error(err))
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if !ok {
		c.log.Debug("late daemon response", zap.String("id", resp.ID))
		return
	}
	ch <- resp
}

func (c *Client) call(ctx context.Context, method, id string) (string, error) {
	req := Request{ID: uuid.NewString(), ReplyTo: c.reply, Method: method, UniqueID: id}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.bus.Publish(RequestTopic, payload); err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return "", errors.New(resp.Error)
		}
		return resp.Message, nil
	case <-timer.C:
		return "", fmt.Errorf("%s %s: %w", method, id, ErrTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) RefreshConditionalSettings(ctx context.Context, id string) (string, error) {
	return c.call(ctx, MethodRefreshConditional, id)
}

func (c *Client) ControllerActivate(ctx context.Context, id string) (string, error) {
	return c.call(ctx, MethodControllerActivate, id)
}

func (c *Client) ControllerDeactivate(ctx context.Context, id string) (string, error) {
	return c.call(ctx, MethodControllerDeactivate, id)
}

// Server answers control requests with a local DaemonControl (the engine)
type Server struct {
	bus     mqtt.Bus
	control conditional.DaemonControl
	timeout time.Duration
	log     *zap.Logger
}

func NewServer(bus mqtt.Bus, control conditional.DaemonControl, timeout time.Duration, log *zap.Logger) *Server {
	return &Server{bus: bus, control: control, timeout: timeout, log: log}
}

// Start begins serving requests
func (s *Server) Start() error {
	if err := s.bus.Subscribe(RequestTopic, s.onRequest); err != nil {
		return fmt.Errorf("subscribe daemon requests: %w", err)
	}
	s.log.Info("daemon control listening", zap.String("topic", RequestTopic))
	return nil
}

// Stop stops serving requests
func (s *Server) Stop() error {
	return s.bus.Unsubscribe(RequestTopic)
}

func (s *Server) onRequest(_ string, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil || req.ReplyTo == "" {
		s.log.Warn("bad daemon request", zap.ByteString("payload", payload))
		return
	}

	resp := Response{ID: req.ID}
	msg, err := s.dispatch(req)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Message = msg
	}
	s.log.Info("daemon request",
		zap.String("method", req.Method),
		zap.String("unique_id", req.UniqueID),
		zap.String("response", msg),
		zap.Error(err))

	out, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.bus.Publish(req.ReplyTo, out); err != nil {
		s.log.Warn("sending daemon response", zap.Error(err))
	}
}

func (s *Server) dispatch(req Request) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	switch req.Method {
	case MethodRefreshConditional:
		return s.control.RefreshConditionalSettings(ctx, req.UniqueID)
	case MethodControllerActivate:
		return s.control.ControllerActivate(ctx, req.UniqueID)
	case MethodControllerDeactivate:
		return s.control.ControllerDeactivate(ctx, req.UniqueID)
	default:
		return "", fmt.Errorf("unknown method %q", req.Method)
	}
}
