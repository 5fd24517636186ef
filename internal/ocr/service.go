package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
	"github.com/timonen87/ocr-microservices/internal/store"
)

// Request is the body of a message on the request queue. File carries the
// uploaded document as base64.
type Request struct {
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	UserID    int64  `json:"user_id"`
	File      string `json:"file"`
}

// Response mirrors the request's identity fields and adds the extracted
// text. It is published verbatim to the caller's reply queue.
type Response struct {
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	OCRText   string `json:"ocr_text"`
}

// Notifier enqueues the completion notification. Satisfied by
// notify.Producer.
type Notifier interface {
	Enqueue(ctx context.Context, to, subject, body string) error
}

// StatusRecorder tracks per-request lifecycle for the status endpoint.
// Best-effort: recording failures are logged, never surfaced.
type StatusRecorder interface {
	SetStatus(ctx context.Context, id, status string) error
}

// Service decodes requests, runs the engine and produces responses. Its
// HandleRequest method is the RPC handler the worker consumer runs with
// prefetch 1.
type Service struct {
	engine   Engine
	notifier Notifier
	statuses StatusRecorder
	logger   *zap.Logger
}

func NewService(engine Engine, notifier Notifier, statuses StatusRecorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, notifier: notifier, statuses: statuses, logger: logger}
}

// HandleRequest is a broker.RequestHandlerFunc. Errors returned here make
// the consumer nack/requeue the request. The notification attempt is
// deliberately not one of them: a failed notification must not fail the
// caller's reply.
//
// A crash between the notification publish and the consumer's ack replays
// the whole request, so the notification can be delivered twice. That is
// the accepted cost of at-least-once delivery here.
func (s *Service) HandleRequest(ctx context.Context, payload []byte) ([]byte, error) {
	s.recordStatus(ctx, store.StatusProcessing)

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.recordStatus(ctx, store.StatusFailed)
		return nil, fmt.Errorf("decode request: %w", err)
	}

	s.logger.Info("processing ocr request",
		zap.Int64("user_id", req.UserID), zap.String("user", req.UserName))

	image, err := base64.StdEncoding.DecodeString(req.File)
	if err != nil {
		s.recordStatus(ctx, store.StatusFailed)
		return nil, fmt.Errorf("decode file: %w", err)
	}

	text, err := s.engine.Recognize(ctx, image)
	if err != nil {
		s.recordStatus(ctx, store.StatusFailed)
		return nil, fmt.Errorf("recognize: %w", err)
	}

	resp := Response{
		UserID:    req.UserID,
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
		OCRText:   text,
	}
	body, err := json.Marshal(resp)
	if err != nil {
		s.recordStatus(ctx, store.StatusFailed)
		return nil, fmt.Errorf("encode response: %w", err)
	}

	if s.notifier != nil && req.UserEmail != "" {
		notifyBody := fmt.Sprintf("Text recognition has been completed. Recognized text: %s", text)
		if err := s.notifier.Enqueue(ctx, req.UserEmail, "Text Recognition Completed", notifyBody); err != nil {
			s.logger.Error("failed to enqueue notification", zap.Error(err))
		}
	}

	s.recordStatus(ctx, store.StatusSucceeded)
	return body, nil
}

func (s *Service) recordStatus(ctx context.Context, status string) {
	if s.statuses == nil {
		return
	}
	id := broker.CorrelationIDFromContext(ctx)
	if id == "" {
		return
	}
	if err := s.statuses.SetStatus(ctx, id, status); err != nil {
		s.logger.Warn("status update failed",
			zap.String("id", id), zap.String("status", status), zap.Error(err))
	}
}
