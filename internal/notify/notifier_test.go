package notify

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Enabled:     true,
		SMTPHost:    "smtp.test.local",
		SMTPPort:    587,
		From:        "noreply@g-match.app",
		FrontendURL: "https://g-match.app/",
		QueueSize:   4,
		Workers:     2,
	}
}

func newTestNotifier(t *testing.T, cfg Config) (*Notifier, *sentLog) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	n := New(cfg, logger)
	log := &sentLog{}
	n.send = log.record
	return n, log
}

type sentLog struct {
	mu   sync.Mutex
	sent []Event
	tos  []string
	html []string
	text []string
}

func (l *sentLog) record(to, subject, htmlBody, textBody string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tos = append(l.tos, to)
	l.html = append(l.html, htmlBody)
	l.text = append(l.text, textBody)
	return nil
}

func (l *sentLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tos)
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	n, log := newTestNotifier(t, cfg)

	n.Start(context.Background())
	n.Enqueue(Event{Kind: KindMatched, To: "a@gist.ac.kr"})
	n.Drain(context.Background())

	assert.Zero(t, log.count())
}

func TestMissingSMTPHostDisables(t *testing.T) {
	cfg := testConfig()
	cfg.SMTPHost = ""
	n, log := newTestNotifier(t, cfg)

	n.Enqueue(Event{Kind: KindExpired, To: "a@gist.ac.kr"})
	n.Drain(context.Background())
	assert.Zero(t, log.count())
}

func TestDeliversQueuedEvents(t *testing.T) {
	n, log := newTestNotifier(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n.Start(ctx)
	n.Enqueue(Event{Kind: KindMatched, To: "a@gist.ac.kr", Name: "amy", Partner: "bee", Score: 92.5})
	n.Enqueue(Event{Kind: KindExpired, To: "b@gist.ac.kr", Name: "bee"})

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	n.Drain(drainCtx)

	require.Equal(t, 2, log.count())
}

func TestOldestDropWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	n, _ := newTestNotifier(t, cfg)

	// Workers not started: the queue fills and overflows.
	n.Enqueue(Event{Kind: KindMatched, To: "first@gist.ac.kr"})
	n.Enqueue(Event{Kind: KindMatched, To: "second@gist.ac.kr"})
	n.Enqueue(Event{Kind: KindMatched, To: "third@gist.ac.kr"})

	// The oldest event was dropped to admit the newest.
	close(n.queue)
	var tos []string
	for ev := range n.queue {
		tos = append(tos, ev.To)
	}
	assert.Equal(t, []string{"second@gist.ac.kr", "third@gist.ac.kr"}, tos)
}

func TestRenderMatched(t *testing.T) {
	subject, htmlBody, textBody := render(Event{
		Kind:    KindMatched,
		Name:    "amy",
		Partner: "bee",
		Score:   87.2,
	}, "https://g-match.app")

	assert.Equal(t, matchedSubject, subject)
	assert.Contains(t, htmlBody, "bee")
	assert.Contains(t, htmlBody, "87.2")
	assert.Contains(t, htmlBody, "https://g-match.app/match")
	assert.Contains(t, textBody, "amy")
	assert.Contains(t, textBody, "https://g-match.app/match")
}

func TestRenderExpired(t *testing.T) {
	subject, htmlBody, textBody := render(Event{Kind: KindExpired, Name: "amy"}, "https://g-match.app")

	assert.Equal(t, expiredSubject, subject)
	assert.Contains(t, htmlBody, "expired")
	assert.False(t, strings.Contains(textBody, "Compatibility"))
}

func TestRenderEscapesHTML(t *testing.T) {
	_, htmlBody, textBody := render(Event{
		Kind:    KindMatched,
		Name:    "<script>alert(1)</script>",
		Partner: "bee",
	}, "https://g-match.app")

	assert.NotContains(t, htmlBody, "<script>")
	assert.Contains(t, textBody, "<script>") // plain text is not escaped
}
