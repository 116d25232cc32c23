// Package alert emails operators when a tenant accumulates delivery failures
// faster than normal, so a broken gateway instance gets human attention
// before parents start asking where their reports went.
package alert

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/pkg/logger"
)

type Service interface {
	NotifyFailures(ctx context.Context, tenant *model.Tenant, failures []*model.QueueEntry) error
}

type Config struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
}

type service struct {
	cfg    Config
	logger *logger.Logger
}

func NewService(cfg Config, logger *logger.Logger) Service {
	return &service{cfg: cfg, logger: logger.WithComponent("alert")}
}

func (s *service) NotifyFailures(_ context.Context, tenant *model.Tenant, failures []*model.QueueEntry) error {
	if len(failures) == 0 || len(s.cfg.To) == 0 {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Tenant %s (%s) had %d delivery failures in the last dispatch sweep.\n\n",
		tenant.Name, tenant.ID, len(failures))
	for _, entry := range failures {
		errMsg := "unknown error"
		if entry.LastError != nil {
			errMsg = *entry.LastError
		}
		fmt.Fprintf(&body, "- entry %s (%s to %s): %s\n",
			entry.ID, entry.Kind, entry.RecipientAddress, errMsg)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", s.cfg.To...)
	m.SetHeader("Subject", fmt.Sprintf("[delivery] %d failures for %s", len(failures), tenant.Name))
	m.SetBody("text/plain", body.String())

	dialer := gomail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.Username, s.cfg.Password)
	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send failure alert: %w", err)
	}

	s.logger.Info("failure alert sent",
		"tenant_id", tenant.ID.String(), "failures", len(failures))
	return nil
}

// Noop is used when alerting is not configured.
type Noop struct{}

func (Noop) NotifyFailures(context.Context, *model.Tenant, []*model.QueueEntry) error { return nil }
