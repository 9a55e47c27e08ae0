package mailer

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTPServer speaks just enough plaintext SMTP to accept one message.
type fakeSMTPServer struct {
	ln   net.Listener
	mu   sync.Mutex
	data string
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTPServer{ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	rd := bufio.NewReader(conn)
	write := func(line string) { conn.Write([]byte(line + "\r\n")) }

	write("220 test ESMTP")
	inData := false
	var body strings.Builder
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if inData {
			if line == "." {
				s.mu.Lock()
				s.data = body.String()
				s.mu.Unlock()
				inData = false
				write("250 OK")
				continue
			}
			body.WriteString(line + "\n")
			continue
		}
		switch {
		case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
			write("250-test")
			write("250 OK")
		case strings.HasPrefix(line, "MAIL FROM"), strings.HasPrefix(line, "RCPT TO"):
			write("250 OK")
		case line == "DATA":
			inData = true
			write("354 go ahead")
		case line == "QUIT":
			write("221 bye")
			return
		default:
			write("250 OK")
		}
	}
}

func (s *fakeSMTPServer) message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func TestSMTPSendPlainMultipart(t *testing.T) {
	srv := newFakeSMTPServer(t)
	m := NewSMTPMailer("127.0.0.1", srv.port(), "noreply@rationtds.local", "", "", false)

	err := m.SendVerificationCode("card@example.com", "123456", 10*time.Minute)
	require.NoError(t, err)

	msg := srv.message()
	assert.Contains(t, msg, "Subject: Your Ration TDS Verification Code")
	assert.Contains(t, msg, "Content-Type: text/plain")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, "123456")
}

func TestSMTPSendFallsBackToImplicitTLS(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Every connection is refused at the greeting, so a plain send always
	// fails and a second dial can only come from the TLS fallback.
	var conns int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&conns, 1)
			conn.Write([]byte("554 unavailable\r\n"))
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port

	m := NewSMTPMailer("127.0.0.1", port, "noreply@rationtds.local", "user", "pass", false)
	err = m.Send("card@example.com", "", "subject", "text", "<p>html</p>")
	require.Error(t, err)
	assert.EqualError(t, err, "smtp send failed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&conns))

	m = NewSMTPMailer("127.0.0.1", port, "noreply@rationtds.local", "user", "pass", true)
	err = m.Send("card@example.com", "", "subject", "text", "<p>html</p>")
	require.Error(t, err)
	assert.NotEqual(t, "smtp send failed", err.Error())
	assert.Equal(t, int32(3), atomic.LoadInt32(&conns))
}
