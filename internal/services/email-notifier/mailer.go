package notifier

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

type SMTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

type Mailer struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string

	log *zap.Logger
}

func NewMailer(cfg SMTPConfig) *Mailer {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host(cfg.Addr))
	}
	return &Mailer{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		log:        zap.L().With(zap.String("component", "email-notifier.mailer")),
	}
}

func (m *Mailer) WithLogger(l *zap.Logger) *Mailer {
	if l == nil {
		return m
	}
	cp := *m
	cp.log = l.With(zap.String("component", "email-notifier.mailer"))
	return &cp
}

// Send delivers a plain-text message. The body is never logged: reset mails
// carry a live secret.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	to = headerSafe(to)
	subj := headerSafe(strings.TrimSpace(m.subjPrefix + " " + subject))
	msg := buildMessage(m.from, to, subj, body)

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", m.addr),
		zap.Bool("tls", m.useTLS),
		zap.String("subject", subj),
	)

	if !m.useTLS {
		log.Debug("sending email (PLAIN)...")
		if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, msg); err != nil {
			log.Error("sendmail failed", zap.Error(err))
			return err
		}
		log.Info("email sent (PLAIN)", zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	log.Debug("sending email (TLS)...")
	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := tls.DialWithDialer(&dialer, "tcp", m.addr, &tls.Config{
		ServerName: host(m.addr),
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		log.Error("tls dial failed", zap.Error(err))
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	c, err := smtp.NewClient(conn, host(m.addr))
	if err != nil {
		_ = conn.Close()
		log.Error("smtp client failed", zap.Error(err))
		return err
	}
	defer func() { _ = c.Close() }()

	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				log.Error("smtp auth failed", zap.Error(err))
				return err
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		log.Error("smtp MAIL FROM failed", zap.Error(err))
		return err
	}
	if err := c.Rcpt(to); err != nil {
		log.Error("smtp RCPT TO failed", zap.Error(err))
		return err
	}
	w, err := c.Data()
	if err != nil {
		log.Error("smtp DATA failed", zap.Error(err))
		return err
	}
	if _, err = w.Write(msg); err != nil {
		log.Error("smtp write failed", zap.Error(err))
		return err
	}
	if err := w.Close(); err != nil {
		log.Error("smtp close failed", zap.Error(err))
		return err
	}
	_ = c.Quit()
	log.Info("email sent (TLS)", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(
		"From: " + from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + body + "\r\n")
}

// headerSafe drops CR and LF so a value cannot open a new header.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
