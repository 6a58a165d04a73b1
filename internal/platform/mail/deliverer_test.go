package mail

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/platform/logger"
)

// fakeSMTP accepts one session and sends the DATA payload on the returned
// channel. rcptCode is the reply to RCPT TO.
func fakeSMTP(t *testing.T, rcptCode int) (string, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = io.WriteString(conn, s+"\r\n") }
		reply("220 fake ESMTP")

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 fake")
			case strings.HasPrefix(cmd, "MAIL"):
				reply("250 ok")
			case strings.HasPrefix(cmd, "RCPT"):
				reply(strconv.Itoa(rcptCode) + " rcpt")
			case cmd == "DATA":
				reply("354 go ahead")
				var sb strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					sb.WriteString(l)
				}
				data <- sb.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()
	return ln.Addr().String(), data
}

func deliverer(t *testing.T, addr string) *SMTPDeliverer {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewSMTPDeliverer(config.MailConfig{Host: host, Port: port, From: "bookpush@example.com"}, logger.Discard())
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "My Book.mobi")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("MOBI", 50)), 0o644))
	return path
}

func TestDeliverSendsAttachment(t *testing.T) {
	t.Parallel()

	addr, data := fakeSMTP(t, 250)
	path := writeArtifact(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, deliverer(t, addr).Deliver(ctx, path, "reader@example.com", "My Book", "Ann"))

	var raw string
	select {
	case raw = <-data:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	msg, err := netmail.ReadMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", msg.Header.Get("To"))
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "My Book", subject)

	_, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	mr := multipart.NewReader(msg.Body, params["boundary"])

	text, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Contains(t, string(body), "My Book by Ann")

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "My Book.mobi", att.FileName())
	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("MOBI", 50), string(decoded))
}

func TestDeliverFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing attachment", func(t *testing.T) {
		t.Parallel()
		d := NewSMTPDeliverer(config.MailConfig{Host: "127.0.0.1", Port: 1, From: "a@b.c"}, logger.Discard())
		assert.Error(t, d.Deliver(ctx, filepath.Join(t.TempDir(), "none.mobi"), "r@example.com", "T", ""))
	})

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()
		d := NewSMTPDeliverer(config.MailConfig{Host: "127.0.0.1", Port: 1, From: "a@b.c"}, logger.Discard())
		assert.Error(t, d.Deliver(ctx, writeArtifact(t), "r@example.com", "T", ""))
	})

	t.Run("recipient rejected", func(t *testing.T) {
		t.Parallel()
		addr, _ := fakeSMTP(t, 550)
		err := deliverer(t, addr).Deliver(ctx, writeArtifact(t), "r@example.com", "T", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RCPT")
	})
}

func TestLineWriter(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	lw := &lineWriter{w: &sb}
	_, err := lw.Write([]byte(strings.Repeat("a", 100)))
	require.NoError(t, err)
	_, err = lw.Write([]byte(strings.Repeat("b", 60)))
	require.NoError(t, err)

	lines := strings.Split(sb.String(), "\r\n")
	require.Len(t, lines, 3)
	assert.Len(t, lines[0], 76)
	assert.Len(t, lines[1], 76)
	assert.Len(t, lines[2], 8)
}
