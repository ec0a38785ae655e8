package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/paircomms/msg-gateway/internal/limiter"
	"github.com/paircomms/msg-gateway/internal/metrics"
)

// Service runs one submission through the fixed gate order:
// rate limit → cooldown → attachment validation → transactional write.
// Each stage short-circuits the rest.
type Service struct {
	Store   *Store
	Limiter limiter.Store
	Clock   Clock
	Log     *zap.Logger
}

func NewService(store *Store, lim limiter.Store, clock Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: store, Limiter: lim, Clock: clock, Log: log}
}

// Submit accepts or rejects one message. file may be nil. The returned error
// is one of the sentinel outcomes, or a wrapped storage fault.
func (s *Service) Submit(ctx context.Context, from, to, body string, file *FileRef) (*Message, error) {
	if err := ValidateSubmission(from, to, body); err != nil {
		metrics.Submissions.WithLabelValues("validation_error").Inc()
		return nil, err
	}

	now := s.Clock.Now()

	// Cheapest rejection first. The limiter records the attempt only when it
	// allows it, so a rejection here consumes no quota.
	ok, err := s.Limiter.Allow(ctx, from, now)
	if err != nil {
		metrics.Submissions.WithLabelValues("storage_error").Inc()
		s.Log.Error("rate limiter unavailable", zap.Error(err))
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !ok {
		metrics.Submissions.WithLabelValues("rate_limited").Inc()
		s.Log.Debug("rate limited", zap.String("from", from))
		return nil, ErrRateLimited
	}

	// Pair cooldown against the latest committed message. Re-checked inside
	// the submit transaction under the pair lock; this read just rejects the
	// common case without opening a transaction.
	prev, err := s.Store.LastReceivedAt(ctx, from, to)
	if err != nil {
		metrics.Submissions.WithLabelValues("storage_error").Inc()
		s.Log.Error("cooldown lookup failed", zap.Error(err))
		return nil, fmt.Errorf("cooldown lookup: %w", err)
	}
	if !s.Store.Cooldown.Allow(prev, now) {
		metrics.Submissions.WithLabelValues("cooldown").Inc()
		s.Log.Debug("cooldown active", zap.String("from", from), zap.String("to", to))
		return nil, ErrCooldownActive
	}

	if file != nil {
		if err := ValidateContentType(file.ContentType); err != nil {
			metrics.Submissions.WithLabelValues("invalid_attachment").Inc()
			return nil, err
		}
		exists, err := s.Store.AttachmentFilenameExists(ctx, file.Filename)
		if err != nil {
			metrics.Submissions.WithLabelValues("storage_error").Inc()
			s.Log.Error("attachment lookup failed", zap.Error(err))
			return nil, fmt.Errorf("attachment lookup: %w", err)
		}
		if exists {
			metrics.Submissions.WithLabelValues("invalid_attachment").Inc()
			return nil, fmt.Errorf("%s: %w", file.Filename, ErrDuplicateAttachment)
		}
	}

	msg, err := s.Store.Submit(ctx, SubmitRequest{From: from, To: to, Body: body, Now: now, File: file})
	if err != nil {
		switch {
		case IsThrottled(err):
			metrics.Submissions.WithLabelValues("cooldown").Inc()
		case IsCallerError(err):
			metrics.Submissions.WithLabelValues("invalid_attachment").Inc()
		default:
			metrics.Submissions.WithLabelValues("storage_error").Inc()
			s.Log.Error("submit failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
		}
		return nil, err
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	return msg, nil
}
