package whatsapp

import (
	"context"
	"log/slog"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	BaseURL  string
	Instance string
	APIKey   string
}

// Sender is the transport used by Service. *Client satisfies it.
type Sender interface {
	SendText(ctx context.Context, number, text string) error
}

// Service handles WhatsApp notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	sender Sender
	logger *slog.Logger
}

// NewService creates a new WhatsApp notification service.
// Returns nil if any connection parameter is empty, which disables delivery
// without conditionals at every call site.
func NewService(cfg ServiceConfig) *Service {
	if cfg.BaseURL == "" || cfg.Instance == "" || cfg.APIKey == "" {
		return nil
	}
	return &Service{
		sender: NewClient(cfg.BaseURL, cfg.Instance, cfg.APIKey),
		logger: slog.Default().With("component", "whatsapp-service"),
	}
}

// NewServiceWithSender creates a Service backed by a pre-built sender.
// Useful for testing with a mock transport.
func NewServiceWithSender(sender Sender) *Service {
	return &Service{
		sender: sender,
		logger: slog.Default().With("component", "whatsapp-service"),
	}
}

// Notify sends text to number. Fail-open: errors are logged, never returned,
// so a gateway outage cannot stall the pipeline. Returns whether delivery
// succeeded so callers can decide to record the alert timestamps.
func (s *Service) Notify(ctx context.Context, number, text string) bool {
	if s == nil {
		return false
	}
	if number == "" {
		s.logger.Debug("Skipping notification, operator has no number")
		return false
	}
	if err := s.sender.SendText(ctx, number, text); err != nil {
		s.logger.Error("Failed to send WhatsApp notification",
			slog.String("number", maskNumber(number)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// maskNumber hides all but the last four digits in logs.
func maskNumber(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	masked := make([]byte, len(number)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + number[len(number)-4:]
}
