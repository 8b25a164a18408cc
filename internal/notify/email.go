package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EmailConfig holds SMTP transport settings
type EmailConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	From             string
	SSLEnable        bool
	Auth             bool
	StartTLSEnable   bool
	StartTLSRequired bool
	Timeout          time.Duration
}

// EmailClient sends alarm notifications over SMTP. Sends are serialised.
type EmailClient struct {
	logger *zap.Logger
	config EmailConfig
	mu     sync.Mutex
}

// NewEmailClient creates an SMTP notification channel
func NewEmailClient(logger *zap.Logger, config EmailConfig) *EmailClient {
	if config.Port == 0 {
		config.Port = 25
		if config.SSLEnable {
			config.Port = 465
		}
	}
	if config.From == "" {
		config.From = config.Username
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &EmailClient{
		logger: logger.Named("email-client"),
		config: config,
	}
}

// Initialize implements Channel.Initialize
func (c *EmailClient) Initialize(ctx context.Context) {
	client, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("Mail client connection failed",
			zap.String("addr", c.addr()),
			zap.Error(err))
		return
	}
	defer client.Close()

	if err := client.Quit(); err != nil {
		c.logger.Warn("Failed to close test connection", zap.Error(err))
	}
	c.logger.Info("Mail client connected", zap.String("addr", c.addr()))
}

// Shutdown implements Channel.Shutdown
func (c *EmailClient) Shutdown() {}

// Send implements Channel.Send
func (c *EmailClient) Send(ctx context.Context, recipients []string, body, subject string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// the previous send may have used up the caller's deadline
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("Sending email notification",
		zap.Int("recipients", len(recipients)),
		zap.String("subject", subject))

	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(c.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write(c.message(recipients, body, subject)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return client.Quit()
}

func (c *EmailClient) addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// dial connects, negotiates TLS and authenticates
func (c *EmailClient) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: c.config.Timeout}
	tlsConfig := &tls.Config{ServerName: c.config.Host}

	var conn net.Conn
	var err error
	if c.config.SSLEnable {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", c.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.addr(), err)
	}

	// bound the whole SMTP dialogue, not just the dial
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start smtp session: %w", err)
	}

	if !c.config.SSLEnable && c.config.StartTLSEnable {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to start tls: %w", err)
			}
		} else if c.config.StartTLSRequired {
			client.Close()
			return nil, fmt.Errorf("server %s does not support STARTTLS", c.addr())
		}
	}

	if c.config.Auth && c.config.Username != "" {
		auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	return client, nil
}

func (c *EmailClient) message(recipients []string, body, subject string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
