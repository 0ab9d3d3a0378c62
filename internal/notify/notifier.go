// Package notify sends transactional mail for matched and expired events.
//
// Dispatch is fire-and-forget: the scheduler enqueues events onto a bounded
// in-memory queue and a small worker pool performs the SMTP calls off the
// scheduler's critical path. When the queue is full the oldest event is
// dropped. Delivery failure never affects matching outcomes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Kind distinguishes the two notification events the scheduler emits.
type Kind string

const (
	KindMatched Kind = "matched"
	KindExpired Kind = "expired"
)

// Event is one pending notification.
type Event struct {
	Kind    Kind
	To      string  // recipient address
	Name    string  // recipient display name
	Partner string  // partner nickname, matched only
	Score   float64 // compatibility score, matched only
}

// Config holds SMTP and dispatch settings.
type Config struct {
	Enabled     bool
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	From        string
	FrontendURL string
	QueueSize   int
	Workers     int
}

// Notifier dispatches notification mail through a bounded worker pool.
type Notifier struct {
	cfg     Config
	logger  *slog.Logger
	enabled bool

	mu    sync.Mutex
	queue chan Event

	group  *errgroup.Group
	cancel context.CancelFunc

	// send performs one delivery. Overridable in tests.
	send func(to, subject, htmlBody, textBody string) error
}

// New creates a Notifier. With Enabled=false or no SMTP host configured,
// every send is a successful no-op; this is logged once here.
func New(cfg Config, logger *slog.Logger) *Notifier {
	n := &Notifier{
		cfg:     cfg,
		logger:  logger,
		enabled: cfg.Enabled && cfg.SMTPHost != "",
		queue:   make(chan Event, cfg.QueueSize),
	}
	n.send = n.sendSMTP
	if n.enabled {
		logger.Info("notify: enabled", "host", cfg.SMTPHost, "workers", cfg.Workers)
	} else {
		logger.Info("notify: disabled (MATCHER_EMAIL_ENABLED=false or SMTP not configured), sends are no-ops")
	}
	return n
}

// Start launches the worker pool. Safe to skip when disabled.
func (n *Notifier) Start(ctx context.Context) {
	if !n.enabled {
		return
	}
	workCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	g, workCtx := errgroup.WithContext(workCtx)
	n.group = g
	for range n.cfg.Workers {
		g.Go(func() error {
			n.workLoop(workCtx)
			return nil
		})
	}
}

// Enqueue schedules an event for delivery. It never blocks and never fails:
// when the queue is full the oldest pending event is dropped to make room.
func (n *Notifier) Enqueue(ev Event) {
	if !n.enabled {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		select {
		case n.queue <- ev:
			return
		default:
		}
		select {
		case dropped := <-n.queue:
			n.logger.Warn("notify: queue full, dropping oldest event",
				"kind", dropped.Kind, "to", dropped.To)
		default:
		}
	}
}

// Drain delivers remaining queued events until the queue is empty or ctx
// expires, then stops the workers.
func (n *Notifier) Drain(ctx context.Context) {
	if !n.enabled || n.group == nil {
		return
	}
drain:
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-ctx.Done():
			break drain
		default:
			break drain
		}
	}
	n.cancel()
	_ = n.group.Wait()
}

func (n *Notifier) workLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.deliver(ev)
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	subject, htmlBody, textBody := render(ev, n.cfg.FrontendURL)
	if err := n.send(ev.To, subject, htmlBody, textBody); err != nil {
		n.logger.Error("notify: send failed", "kind", ev.Kind, "to", ev.To, "error", err)
		return
	}
	n.logger.Info("notify: sent", "kind", ev.Kind, "to", ev.To)
}

func (n *Notifier) sendSMTP(to, subject, htmlBody, textBody string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	if htmlBody != "" {
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(htmlBody)
	} else {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(textBody)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	var auth smtp.Auth
	if n.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)
	}
	return smtp.SendMail(addr, auth, n.cfg.From, []string{to}, []byte(msg.String()))
}
