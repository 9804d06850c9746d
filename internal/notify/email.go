package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/Dan9191/note-lending/internal/config"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultSMTPTimeout bounds one delivery, dial to QUIT
const DefaultSMTPTimeout = 10 * time.Second

// Email sends operator mail for events that need attention
type Email struct {
	cfg     *config.Config
	logger  *logrus.Logger
	Timeout time.Duration
	send    func(ctx context.Context, e *email.Email) error
}

// NewEmail creates an SMTP notifier
func NewEmail(cfg *config.Config, logger *logrus.Logger) *Email {
	n := &Email{cfg: cfg, logger: logger, Timeout: DefaultSMTPTimeout}
	n.send = n.deliver
	return n
}

// deliver speaks SMTP over a connection whose deadline follows ctx and
// Timeout, so a hung server fails the delivery instead of blocking it.
func (n *Email) deliver(ctx context.Context, e *email.Email) error {
	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(n.cfg.SMTPHost, n.cfg.SMTPPort))
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	if n.cfg.SMTPUsername != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)); err != nil {
			return err
		}
	}

	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", e.From, err)
	}
	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, to := range e.To {
		if err := c.Rcpt(to); err != nil {
			return err
		}
	}

	raw, err := e.Bytes()
	if err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// Notify mails settlement failures, closures and delinquency reports.
// Other events are ignored.
func (n *Email) Notify(ctx context.Context, ev Event) error {
	var subject, body string
	switch ev.Type {
	case SettlementFailed:
		subject = fmt.Sprintf("Settlement failed for note %s", ev.NoteID)
		body = fmt.Sprintf(
			"A transfer of %s from %s to %s could not be settled.\n"+
				"Reason: %s\n"+
				"No repayment state was changed; the payment can be retried.\n",
			FormatAmount(ev.Amount), ev.From, ev.To, ev.Reason,
		)
	case DelinquencyReported:
		if overdue, _ := ev.Fields["overdue"].(bool); !overdue {
			return nil
		}
		subject = fmt.Sprintf("Note %s reported overdue", ev.NoteID)
		body = fmt.Sprintf(
			"Note %s is overdue.\n"+
				"Consecutive misses: %v\n"+
				"Accrued penalty interest: %s\n"+
				"Active rate: %v bps\n",
			ev.NoteID, ev.Fields["consecutive_misses"], FormatAmount(ev.Amount), ev.Fields["active_rate_bps"],
		)
	case NoteClosed:
		subject = fmt.Sprintf("Note %s repaid", ev.NoteID)
		body = fmt.Sprintf("Note %s has been fully repaid and closed at %s.\n",
			ev.NoteID, ev.At.Format("2006-01-02 15:04:05"))
	default:
		return nil
	}

	e := email.NewEmail()
	e.From = n.cfg.SenderEmail
	e.To = []string{n.cfg.NotifyEmailTo}
	e.Subject = subject
	e.Text = []byte(body + "\nEvent: " + ev.ID + "\n")

	if err := n.send(ctx, e); err != nil {
		n.logger.Errorf("Failed to send email to %s: %v", n.cfg.NotifyEmailTo, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Infof("Email sent to %s: %s", n.cfg.NotifyEmailTo, e.Subject)
	return nil
}

// FormatAmount renders minor units with two decimals
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
