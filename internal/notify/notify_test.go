package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/note-lending/internal/config"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestEmail_SettlementFailed(t *testing.T) {
	cfg := &config.Config{SenderEmail: "from@lending.local", NotifyEmailTo: "ops@lending.local"}
	n := NewEmail(cfg, quietLogger())

	var sent *email.Email
	n.send = func(_ context.Context, e *email.Email) error {
		sent = e
		return nil
	}

	ev := NewEvent(SettlementFailed, "note-1", time.Now())
	ev.Amount = 112825
	ev.From = "borrower"
	ev.To = "lender"
	ev.Reason = "insufficient funds"

	require.NoError(t, n.Notify(context.Background(), ev))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"ops@lending.local"}, sent.To)
	assert.Contains(t, sent.Subject, "note-1")
	assert.True(t, strings.Contains(string(sent.Text), "1128.25"))
}

func TestEmail_IgnoresRoutineEvents(t *testing.T) {
	n := NewEmail(&config.Config{}, quietLogger())
	n.send = func(context.Context, *email.Email) error {
		t.Fatal("unexpected send")
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), NewEvent(CycleSettled, "note-1", time.Now())))

	ev := NewEvent(DelinquencyReported, "note-1", time.Now())
	ev.Fields = map[string]any{"overdue": false}
	require.NoError(t, n.Notify(context.Background(), ev))
}

func TestEmail_SendError(t *testing.T) {
	n := NewEmail(&config.Config{NotifyEmailTo: "ops@lending.local"}, quietLogger())
	n.send = func(context.Context, *email.Email) error { return errors.New("smtp down") }

	err := n.Notify(context.Background(), NewEvent(NoteClosed, "note-1", time.Now()))
	assert.Error(t, err)
}

// hungSMTP accepts connections and never sends a greeting
func hungSMTP(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		ln.Close()
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-done
				conn.Close()
			}()
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func TestEmail_HungServerTimesOut(t *testing.T) {
	host, port := hungSMTP(t)
	cfg := &config.Config{SMTPHost: host, SMTPPort: port, SenderEmail: "from@lending.local", NotifyEmailTo: "ops@lending.local"}
	n := NewEmail(cfg, quietLogger())
	n.Timeout = 200 * time.Millisecond

	start := time.Now()
	err := n.Notify(context.Background(), NewEvent(NoteClosed, "note-1", time.Now()))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEmail_HungServerHonoursContext(t *testing.T) {
	host, port := hungSMTP(t)
	cfg := &config.Config{SMTPHost: host, SMTPPort: port, SenderEmail: "from@lending.local", NotifyEmailTo: "ops@lending.local"}
	n := NewEmail(cfg, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := n.Notify(ctx, NewEvent(NoteClosed, "note-1", time.Now()))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMulti_DeliversToAll(t *testing.T) {
	a, b := NewRecorder(4), NewRecorder(4)
	m := Multi{NewLog(quietLogger()), a, b}

	require.NoError(t, m.Notify(context.Background(), NewEvent(CycleSettled, "note-1", time.Now())))
	assert.Len(t, a.Drain(), 1)
	assert.Len(t, b.Drain(), 1)
	assert.Empty(t, a.Drain())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1000000.00", FormatAmount(100000000))
	assert.Equal(t, "0.05", FormatAmount(5))
}
