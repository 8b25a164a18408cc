package notify

import (
	"context"
	"mime"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type capturedMail struct {
	from       string
	recipients []string
	data       string
}

// smtpServer is a minimal SMTP endpoint capturing delivered messages
type smtpServer struct {
	ln       net.Listener
	mu       sync.Mutex
	messages []capturedMail
	sessions int
}

func startSMTPServer(t *testing.T) *smtpServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &smtpServer{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *smtpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) serve(conn net.Conn) {
	tp := textproto.NewConn(conn)
	defer tp.Close()

	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	tp.PrintfLine("220 localhost ESMTP")
	var mail capturedMail
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			tp.PrintfLine("250-localhost")
			tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			mail = capturedMail{from: address(line)}
			tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			mail.recipients = append(mail.recipients, address(line))
			tp.PrintfLine("250 OK")
		case cmd == "DATA":
			tp.PrintfLine("354 End data with <CR><LF>.<CR><LF>")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			mail.data = string(data)
			s.mu.Lock()
			s.messages = append(s.messages, mail)
			s.mu.Unlock()
			tp.PrintfLine("250 OK")
		case cmd == "QUIT":
			tp.PrintfLine("221 Bye")
			return
		default:
			tp.PrintfLine("250 OK")
		}
	}
}

func (s *smtpServer) captured() []capturedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedMail(nil), s.messages...)
}

func address(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}

func newTestEmailClient(t *testing.T, server *smtpServer) *EmailClient {
	return NewEmailClient(zaptest.NewLogger(t), EmailConfig{
		Host:           "127.0.0.1",
		Port:           server.port(),
		Username:       "alarm@example.com",
		StartTLSEnable: true,
	})
}

func TestEmailClient_Send(t *testing.T) {
	server := startSMTPServer(t)
	client := newTestEmailClient(t, server)

	subject := "应用[OrderService]服务[ createOrder] 响应时间报警!"
	err := client.Send(context.Background(), []string{"a@example.com", "b@example.com"}, "average response time 2500ms", subject)
	require.NoError(t, err)

	messages := server.captured()
	require.Len(t, messages, 1)
	assert.Equal(t, "alarm@example.com", messages[0].from)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, messages[0].recipients)
	assert.Contains(t, messages[0].data, "average response time 2500ms")
	assert.Contains(t, messages[0].data, "To: a@example.com, b@example.com")

	// The subject header is RFC 2047 encoded and decodes back to the title
	var header string
	for _, line := range strings.Split(messages[0].data, "\n") {
		if strings.HasPrefix(line, "Subject: ") {
			header = strings.TrimSpace(strings.TrimPrefix(line, "Subject: "))
		}
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, subject, decoded)
}

func TestEmailClient_SendWithoutRecipients(t *testing.T) {
	server := startSMTPServer(t)
	client := newTestEmailClient(t, server)

	err := client.Send(context.Background(), nil, "body", "subject")
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, server.captured())
}

func TestEmailClient_ConcurrentSends(t *testing.T) {
	server := startSMTPServer(t)
	client := newTestEmailClient(t, server)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := client.Send(context.Background(), []string{"ops@example.com"}, "body", "alarm "+strconv.Itoa(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, server.captured(), 5)
}

func TestEmailClient_StartTLSRequired(t *testing.T) {
	server := startSMTPServer(t)
	client := NewEmailClient(zaptest.NewLogger(t), EmailConfig{
		Host:             "127.0.0.1",
		Port:             server.port(),
		Username:         "alarm@example.com",
		StartTLSEnable:   true,
		StartTLSRequired: true,
	})

	err := client.Send(context.Background(), []string{"ops@example.com"}, "body", "subject")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
	assert.Empty(t, server.captured())
}

func TestEmailClient_InitializeUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client := NewEmailClient(zaptest.NewLogger(t), EmailConfig{Host: "127.0.0.1", Port: port})

	// Connection failures are only logged
	client.Initialize(context.Background())
}

// startStalledSMTPServer greets every client and then never answers
func startStalledSMTPServer(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				conn.Write([]byte("220 stalled ESMTP\r\n"))
				<-done
			}()
		}
	}()
	t.Cleanup(func() {
		close(done)
		ln.Close()
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func TestEmailClient_SendHonoursDeadline(t *testing.T) {
	port := startStalledSMTPServer(t)
	client := NewEmailClient(zaptest.NewLogger(t), EmailConfig{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "apm@example.com",
		Timeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Send(ctx, []string{"ops@example.com"}, "body", "subject")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	// A send without a caller deadline falls back to the configured timeout
	client.config.Timeout = 200 * time.Millisecond
	start = time.Now()
	err = client.Send(context.Background(), []string{"ops@example.com"}, "body", "subject")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEmailClient_DefaultPort(t *testing.T) {
	plain := NewEmailClient(zaptest.NewLogger(t), EmailConfig{Host: "smtp.example.com"})
	assert.Equal(t, 25, plain.config.Port)

	ssl := NewEmailClient(zaptest.NewLogger(t), EmailConfig{Host: "smtp.example.com", SSLEnable: true, Username: "ops@example.com"})
	assert.Equal(t, 465, ssl.config.Port)
	assert.Equal(t, "ops@example.com", ssl.config.From)
}
