// Package smtp delivers notification emails through an SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/bookstore-events/internal/domain/notifications"
	"github.com/ahrav/bookstore-events/pkg/common"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
)

var _ notifications.Mailer = (*Mailer)(nil)

// Config describes the relay and the sender identity.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	// SendTimeout bounds a whole send (dial, auth and transfer). Zero leaves
	// the send bounded only by the caller's context.
	SendTimeout time.Duration
	// RatePerSec caps outbound messages per second. Zero disables the cap.
	RatePerSec float64
}

// sender is the part of *mail.Client the mailer needs.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends dual-format messages over STARTTLS with PLAIN authentication.
type Mailer struct {
	client  sender
	from    string
	name    string
	timeout time.Duration
	limiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewMailer builds a Mailer for cfg. The relay is contacted per message, so
// construction never touches the network.
func NewMailer(cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	if cfg.SendTimeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.SendTimeout))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return newMailer(client, cfg, logger, tracer), nil
}

func newMailer(client sender, cfg Config, log *logger.Logger, tracer trace.Tracer) *Mailer {
	return &Mailer{
		client:  client,
		from:    cfg.FromEmail,
		name:    cfg.FromName,
		timeout: cfg.SendTimeout,
		limiter: common.NewRateLimiter(cfg.RatePerSec, 1),
		logger:  log.With("component", "smtp_mailer", "relay", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		tracer:  tracer,
	}
}

// Send renders msg as multipart/alternative and hands it to the relay.
func (m *Mailer) Send(ctx context.Context, msg notifications.Email) error {
	ctx, span := m.tracer.Start(ctx, "smtp.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("email.subject", msg.Subject)),
	)
	defer span.End()

	if err := msg.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid email")
		return err
	}

	built, err := m.build(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build message")
		return err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	start := time.Now()
	if err := m.client.DialAndSendWithContext(ctx, built); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		m.logger.Error(ctx, "Failed to send email", "to", msg.To, "error", err)
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}

	m.logger.Info(ctx, "Email sent", "to", msg.To, "duration", time.Since(start))
	return nil
}

func (m *Mailer) build(msg notifications.Email) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.FromFormat(m.name, m.from); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", notifications.ErrInvalidEmail, m.from, err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: recipient %q: %v", notifications.ErrInvalidEmail, msg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetMessageID()
	out.SetDate()

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		out.SetBodyString(mail.TypeTextPlain, msg.TextBody)
		out.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	case msg.HTMLBody != "":
		out.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	default:
		out.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	}

	return out, nil
}
