// Package service exposes the policy lifecycle over NATS request/reply.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/msimon/polstore/manager"
	"github.com/msimon/polstore/policy"
	"github.com/msimon/polstore/store"
)

// Logger is an interface for logging during request handling.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// defaultLogger wraps the standard log package.
type defaultLogger struct{}

func (l *defaultLogger) Info(msg string, args ...any) {
	log.Printf("INFO: "+msg, args...)
}

func (l *defaultLogger) Warn(msg string, args ...any) {
	log.Printf("WARN: "+msg, args...)
}

func (l *defaultLogger) Debug(msg string, args ...any) {
	log.Printf("DEBUG: "+msg, args...)
}

// GetRequest addresses one policy by ID. Shared by get, delete, and
// resolve requests.
type GetRequest struct {
	PolicyID string `json:"policyId"`
}

// ListRequest filters a list request. An explicit status overrides the
// default exclusion of deleted policies.
type ListRequest struct {
	TenantID string `json:"tenantId,omitempty"`
	Status   string `json:"status,omitempty"`
}

// UpdateRequest carries a sparse patch for one policy.
type UpdateRequest struct {
	PolicyID string          `json:"policyId"`
	Document json.RawMessage `json:"document"`
}

// Response is the uniform reply shape for every API subject: a success
// flag, at most one payload field, and optional error details.
type Response struct {
	Success          bool                    `json:"success"`
	Policy           *store.Record           `json:"policy,omitempty"`
	Policies         []*store.Record         `json:"policies,omitempty"`
	Assignments      policy.RuleToPrincipals `json:"assignments,omitempty"`
	Error            string                  `json:"error,omitempty"`
	ValidationErrors []string                `json:"validationErrors,omitempty"`
}

// Service handles policy API requests over NATS request/reply.
type Service struct {
	manager *manager.Manager
	config  ServerConfig

	nc     *nats.Conn
	subs   []*nats.Subscription
	logger Logger

	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a Service bound to the given lifecycle manager.
func New(m *manager.Manager, config ServerConfig, opts ...Option) (*Service, error) {
	if m == nil {
		return nil, errors.New("manager is required")
	}
	if config.NatsCredentials != "" && config.NatsNkey != "" {
		return nil, errors.New("NatsCredentials and NatsNkey are mutually exclusive")
	}
	if config.NatsURL == "" {
		config.NatsURL = nats.DefaultURL
	}
	if os.Getenv("NATS_URL") != "" {
		config.NatsURL = os.Getenv("NATS_URL")
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "polstore"
	}

	s := &Service{
		manager: m,
		config:  config,
		logger:  &defaultLogger{},
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start connects to NATS and begins handling API requests.
// This method blocks until Stop is called or the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name("polstore-api"),
	}
	if s.config.NatsCredentials != "" {
		opts = append(opts, nats.UserCredentials(s.config.NatsCredentials))
	} else if s.config.NatsNkey != "" {
		opt, err := nats.NkeyOptionFromSeed(s.config.NatsNkey)
		if err != nil {
			return fmt.Errorf("loading nkey from %s: %w", s.config.NatsNkey, err)
		}
		opts = append(opts, opt)
	}

	nc, err := nats.Connect(s.config.NatsURL, opts...)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	s.nc = nc

	handlers := map[string]nats.MsgHandler{
		"create":  s.handleCreate,
		"get":     s.handleGet,
		"list":    s.handleList,
		"update":  s.handleUpdate,
		"delete":  s.handleDelete,
		"resolve": s.handleResolve,
	}
	for op, handler := range handlers {
		subject := s.config.SubjectPrefix + "." + op
		sub, err := nc.Subscribe(subject, handler)
		if err != nil {
			nc.Close()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("policy API started, listening on %s.>", s.config.SubjectPrefix)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case <-s.done:
		s.logger.Info("stop requested, shutting down")
	}

	return s.shutdown()
}

// Stop signals the service to shut down gracefully.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// shutdown drains subscriptions, waits for in-flight requests and
// pending notifications, and closes the connection.
func (s *Service) shutdown() error {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("error draining subscription: %v", err)
		}
	}

	s.wg.Wait()
	s.manager.Close()

	if s.nc != nil {
		s.nc.Close()
	}

	s.logger.Info("policy API stopped")
	return nil
}

// handleCreate processes a create request. The message body is the
// candidate policy document.
func (s *Service) handleCreate(msg *nats.Msg) {
	s.wg.Add(1)
	defer s.wg.Done()

	doc, verrs := policy.ParseDocument(msg.Data)
	if verrs != nil {
		s.respond(msg, invalidResponse(verrs))
		return
	}

	rec, err := s.manager.Create(context.Background(), doc)
	if err != nil {
		s.respond(msg, errorResponse(err))
		return
	}
	s.respond(msg, Response{Success: true, Policy: rec})
}

func (s *Service) handleGet(msg *nats.Msg) {
	s.wg.Add(1)
	defer s.wg.Done()

	req, ok := s.decodeGetRequest(msg)
	if !ok {
		return
	}

	rec, err := s.manager.Get(context.Background(), req.PolicyID)
	if err != nil {
		s.respond(msg, errorResponse(err))
		return
	}
	s.respond(msg, Response{Success: true, Policy: rec})
}

func (s *Service) handleList(msg *nats.Msg) {
	s.wg.Add(1)
	defer s.wg.Done()

	var req ListRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, Response{Error: "invalid request: " + err.Error()})
			return
		}
	}
	if req.Status != "" && !policy.Status(req.Status).IsValid() {
		s.respond(msg, Response{Error: "status must be one of ACTIVE, DELETED"})
		return
	}

	recs, err := s.manager.List(context.Background(), manager.ListQuery{
		TenantID: req.TenantID,
		Status:   policy.Status(req.Status),
	})
	if err != nil {
		s.respond(msg, errorResponse(err))
		return
	}
	if recs == nil {
		recs = []*store.Record{}
	}
	s.respond(msg, Response{Success: true, Policies: recs})
}

func (s *Service) handleUpdate(msg *nats.Msg) {
	s.wg.Add(1)
	defer s.wg.Done()

	var req UpdateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, Response{Error: "invalid request: " + err.Error()})
		return
	}
	if req.PolicyID == "" {
		s.respond(msg, Response{Error: "policyId is required"})
		return
	}

	patch, verrs := policy.ParsePatch(req.Document)
	if verrs != nil {
		s.respond(msg, invalidResponse(verrs))
		return
	}

	rec, err := s.manager.Update(context.Background(), req.PolicyID, patch)
	if err != nil {
		s.respond(msg, errorResponse(err))
		return
	}
	s.respond(msg, Response{Success: true, Policy: rec})
}

func (s *Service) handleDelete(msg *nats.Msg) {
	s.wg.Add(1)
	defer s.wg.Done()

	req, ok := s.decodeGetRequest(msg)
	if !ok {
		return
	}

	rec, err := s.manager.Delete(context.Background(), req.PolicyID)
	if err != nil {
		s.respond(msg, errorResponse(err))
		return
	}
	s.respond(msg, Response{Success: true, Policy: rec})
}

func (s *Service) handleResolve(msg *nats.Msg) {
	s.wg.Add(1)
	defer s.wg.Done()

	req, ok := s.decodeGetRequest(msg)
	if !ok {
		return
	}

	assignments, err := s.manager.ResolveAssignments(context.Background(), req.PolicyID)
	if err != nil {
		s.respond(msg, errorResponse(err))
		return
	}
	s.respond(msg, Response{Success: true, Assignments: assignments})
}

// decodeGetRequest parses a policyId-addressed request, replying with an
// error response itself when the request is unusable.
func (s *Service) decodeGetRequest(msg *nats.Msg) (GetRequest, bool) {
	var req GetRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, Response{Error: "invalid request: " + err.Error()})
		return req, false
	}
	if req.PolicyID == "" {
		s.respond(msg, Response{Error: "policyId is required"})
		return req, false
	}
	return req, true
}

func (s *Service) respond(msg *nats.Msg, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("encoding response: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("sending response: %v", err)
	}
}

// invalidResponse builds the reply for a failed validation.
func invalidResponse(verrs *policy.ValidationErrors) Response {
	return Response{
		Error:            "validation failed",
		ValidationErrors: verrs.Messages(),
	}
}

// errorResponse maps lifecycle errors onto the uniform reply shape.
func errorResponse(err error) Response {
	var verrs *policy.ValidationErrors
	if errors.As(err, &verrs) {
		return invalidResponse(verrs)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Response{Error: "policy not found"}
	case errors.Is(err, store.ErrConflict):
		return Response{Error: "policy already exists"}
	default:
		return Response{Error: err.Error()}
	}
}
