package notify

import (
	"context"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail"
	"github.com/kiranshivaraju/peoplehub/internal/config"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
)

// mailSender is satisfied by *mail.Dialer.
type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// MailSink emails lifecycle events to a fixed billing address.
type MailSink struct {
	sender mailSender
	from   string
	to     []string
}

func NewMailSink(cfg config.SMTPConfig, to string) *MailSink {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &MailSink{sender: d, from: cfg.From, to: splitAddresses(to)}
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MailSink) Name() string { return "mail" }

func (s *MailSink) Send(ctx context.Context, ev models.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body := renderMail(ev)

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func renderMail(ev models.LifecycleEvent) (string, string) {
	name := ev.TenantName
	if name == "" {
		name = ev.TenantID.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tenant: %s (%s)\n", name, ev.TenantID)
	fmt.Fprintf(&b, "Event: %s\n", ev.Kind)
	fmt.Fprintf(&b, "Time: %s\n", ev.OccurredAt.UTC().Format("2006-01-02 15:04 MST"))

	var subject string
	switch ev.Kind {
	case models.EventActivated:
		subject = fmt.Sprintf("[PeopleHub] %s subscription activated", name)
	case models.EventExtended:
		subject = fmt.Sprintf("[PeopleHub] %s trial extended by %d days", name, ev.Payload.AdditionalDays)
	case models.EventExpired:
		subject = fmt.Sprintf("[PeopleHub] %s trial expired", name)
	case models.EventDeleted:
		subject = fmt.Sprintf("[PeopleHub] %s deleted", name)
	case models.EventTrialEnding:
		subject = fmt.Sprintf("[PeopleHub] %s trial ends in %d days", name, ev.Payload.DaysRemaining)
	default:
		subject = fmt.Sprintf("[PeopleHub] %s %s", name, ev.Kind)
	}
	if ev.Payload.OldTrialEndDate != nil {
		fmt.Fprintf(&b, "Previous trial end: %s\n", ev.Payload.OldTrialEndDate.UTC().Format("2006-01-02"))
	}
	if ev.Payload.NewTrialEndDate != nil {
		fmt.Fprintf(&b, "Trial end: %s\n", ev.Payload.NewTrialEndDate.UTC().Format("2006-01-02"))
	}
	if ev.Payload.Actor != "" {
		fmt.Fprintf(&b, "By: %s\n", ev.Payload.Actor)
	}
	return subject, b.String()
}
