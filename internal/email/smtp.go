package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	FromName           string
	InsecureSkipVerify bool
	// Timeout bounds one SMTP session when the caller's context has no deadline.
	Timeout time.Duration
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
	tls *tls.Config
}

// NewSMTPSender builds an SMTPSender. It does not connect until Send.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{
		cfg: cfg,
		tls: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
		},
	}
}

// Send delivers one message in its own SMTP session. The whole session,
// from dial to the end of DATA, is bounded by ctx: a relay that stalls is
// cut off when ctx ends and the failure is transient.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	if !ValidAddress(recipient) {
		err := Permanent(fmt.Errorf("invalid recipient %q", recipient))
		observe("smtp", err)
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	msg := gomail.NewMessage()
	if s.cfg.FromName != "" {
		msg.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	} else {
		msg.SetHeader("From", s.cfg.From)
	}
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	err := s.session(ctx, msg)
	if err != nil && ctx.Err() != nil {
		err = Transient(fmt.Errorf("smtp session: %w: %w", ctx.Err(), err))
	} else {
		err = classifySMTP(err)
	}
	observe("smtp", err)
	return err
}

// session dials the relay, upgrades to TLS when offered, authenticates and
// hands the message to gomail.
func (s *SMTPSender) session(ctx context.Context, msg *gomail.Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock any pending read or write once ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	implicitTLS := s.cfg.Port == 465
	if implicitTLS {
		conn = tls.Client(conn, s.tls)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok && !implicitTLS {
		if err := c.StartTLS(s.tls); err != nil {
			return err
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
				return err
			}
		}
	}

	send := gomail.SendFunc(func(from string, to []string, m io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := m.WriteTo(w); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
	if err := gomail.Send(send, msg); err != nil {
		return err
	}
	_ = c.Quit()
	return nil
}

// permanentSMTPCodes reject this recipient or this message. Other 5xx replies
// (530/534/535 authentication, 554 relay policy, ...) are about the relay or
// our credentials and must not discard deliveries.
var permanentSMTPCodes = map[int]bool{
	550: true, // mailbox unavailable
	551: true, // user not local
	553: true, // mailbox name not allowed
}

// gomail flattens server replies into its own error text, e.g.
// "gomail: could not send email 1: 550 5.1.1 mailbox unavailable".
var smtpReplyCode = regexp.MustCompile(`(?:^|: )([2-5]\d\d)[ -]`)

func classifySMTP(err error) error {
	if err == nil {
		return nil
	}

	var tp *textproto.Error
	if errors.As(err, &tp) {
		if permanentSMTPCodes[tp.Code] {
			return Permanent(err)
		}
		return Transient(err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return Transient(err)
	}

	if m := smtpReplyCode.FindStringSubmatch(err.Error()); m != nil {
		if code, _ := strconv.Atoi(m[1]); permanentSMTPCodes[code] {
			return Permanent(err)
		}
	}
	return Transient(err)
}
