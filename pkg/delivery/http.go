package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"crconsync/pkg/logger"
	"crconsync/pkg/metrics"
	"crconsync/pkg/model"
	"crconsync/pkg/retry"
)

const maxErrorBody = 500

// HTTPConfig configures an HTTPSender.
type HTTPConfig struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPSender posts the payload as one JSON request and retries according to the response.
//
//   - 200 with a truthy "success" field, or with a body that is not a JSON object: success.
//   - 200 with a falsy "success": the "error" field is recorded, retried after RetryDelay.
//   - 429: retried after RetryDelay times the attempt number.
//   - any other status: retried after RetryDelay.
//   - timeout: retried after RetryDelay. Connection failure: retried after twice RetryDelay.
type HTTPSender struct {
	cfg    HTTPConfig
	client *http.Client
	logger *logger.Logger
}

// NewHTTPSender returns a sender posting to cfg.URL.
func NewHTTPSender(cfg HTTPConfig, l *logger.Logger) *HTTPSender {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &HTTPSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: l.Named("delivery"),
	}
}

// StatusError is a non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d", e.Code) }

// TransportError is a request that got no response.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timeout: %v", e.Err)
	}
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (s *HTTPSender) Target() string { return s.cfg.URL }

func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Deliver implements Sender.
func (s *HTTPSender) Deliver(ctx context.Context, payload model.Payload) error {
	counts := payload.Counts()
	if counts.Total() == 0 {
		s.logger.Info("no new data to export")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	s.logger.Info("sending new entries",
		zap.Int("total", counts.Total()),
		zap.Int("maps", counts.Maps),
		zap.Int("log_lines", counts.LogLines),
		zap.Int("player_sessions", counts.PlayerSessions),
		zap.Int("player_stats", counts.PlayerStats),
		zap.Int("bytes", len(body)))

	attempts := 0
	err = retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		s.logger.Info("sending data",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxRetries),
			zap.String("url", s.cfg.URL))

		start := time.Now()
		err := s.post(ctx, body)
		metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
		metrics.DeliveryAttemptsTotal.WithLabelValues(attemptOutcome(err)).Inc()
		if err != nil && ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return err
	}, retry.RetryOptions{
		MaxAttempts: s.cfg.MaxRetries,
		Backoff:     s.backoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("delivery attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("delivery interrupted: %w", err)
	}

	f := &Failure{Attempts: attempts, Reason: err}
	s.logger.Error("export failed", f, zap.Int("attempts", attempts))
	return f
}

func (s *HTTPSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &TransportError{Err: err, Timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("read response: %w", err), Timeout: isTimeout(err)}
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
		s.logger.Error("endpoint returned an error status", se, zap.String("body", se.Body))
		return se
	}

	var ack map[string]any
	if err := json.Unmarshal(raw, &ack); err != nil {
		s.logger.Info("data sent (no JSON response)")
		return nil
	}
	if truthy(ack["success"]) {
		msg := "OK"
		if m, ok := ack["message"].(string); ok && m != "" {
			msg = m
		}
		s.logger.Info("export successful", zap.String("message", msg))
		return nil
	}

	reason := "Unknown error"
	if e, ok := ack["error"]; ok && e != nil {
		reason = fmt.Sprint(e)
	}
	err = fmt.Errorf("%w: %s", ErrRejected, reason)
	s.logger.Error("API reports error", err)
	return err
}

func (s *HTTPSender) backoff(attempt int, err error) time.Duration {
	var (
		se *StatusError
		te *TransportError
	)
	switch {
	case errors.As(err, &se) && se.Code == http.StatusTooManyRequests:
		return s.cfg.RetryDelay * time.Duration(attempt)
	case errors.As(err, &te) && !te.Timeout:
		return 2 * s.cfg.RetryDelay
	default:
		return s.cfg.RetryDelay
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func attemptOutcome(err error) string {
	var (
		se *StatusError
		te *TransportError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.As(err, &se) && se.Code == http.StatusTooManyRequests:
		return "rate_limited"
	case errors.As(err, &se):
		return "http_error"
	case errors.As(err, &te) && te.Timeout:
		return "timeout"
	case errors.As(err, &te):
		return "connection_error"
	}
	return "error"
}

// truthy follows the loose notion of success used by existing endpoints: true, non-zero
// numbers and non-empty strings, lists and objects.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
