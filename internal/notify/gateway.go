package notify

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brownout/internal/logging"
)

// ErrUnknownToken is returned for Ack or AwaitNotice calls with a token that
// was never registered or has been dropped.
var ErrUnknownToken = errors.New("unknown registration token")

// Notice is the message delivered to registered services when a shutdown
// begins.
type Notice struct {
	Reason   string    `json:"reason"`
	Deadline time.Time `json:"deadline"`
}

// AckSummary reports the outcome of one notification round.
type AckSummary struct {
	Notified int      `json:"notified"`
	Acked    int      `json:"acked"`
	Missed   []string `json:"missed,omitempty"`
}

type registration struct {
	name     string
	token    string
	notices  chan Notice
	joinedAt time.Time
}

// Gateway tracks registered services and runs bounded notification rounds.
// The round never waits past its deadline: services that do not ack in time
// are reported in the summary and the shutdown moves on.
type Gateway struct {
	logger *slog.Logger

	mu       sync.Mutex
	services map[string]*registration

	// Active round state. pending maps token to service name; done is
	// closed when the pending set empties.
	pending map[string]string
	done    chan struct{}
}

// NewGateway builds an empty gateway.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		logger:   logging.NewComponentLogger(logger, "notify"),
		services: make(map[string]*registration),
	}
}

// Register adds a service and returns its opaque token. Registering the same
// name again replaces the previous registration; the old token is dropped.
func (g *Gateway) Register(name string) string {
	token := uuid.NewString()

	g.mu.Lock()
	for old, reg := range g.services {
		if reg.name == name {
			close(reg.notices)
			delete(g.services, old)
		}
	}
	g.services[token] = &registration{
		name:     name,
		token:    token,
		notices:  make(chan Notice, 1),
		joinedAt: time.Now(),
	}
	g.mu.Unlock()

	g.logger.Info("service registered",
		logging.String(logging.FieldService, name),
		logging.String(logging.FieldEventType, "service_registered"),
	)
	return token
}

// Unregister removes a service. Safe to call with an unknown token.
func (g *Gateway) Unregister(token string) {
	g.mu.Lock()
	reg, ok := g.services[token]
	if ok {
		close(reg.notices)
		delete(g.services, token)
		delete(g.pending, token)
		// A round waiting only on this service completes now.
		if len(g.pending) == 0 && g.done != nil {
			close(g.done)
			g.done = nil
		}
	}
	g.mu.Unlock()

	if ok {
		g.logger.Info("service unregistered",
			logging.String(logging.FieldService, reg.name),
			logging.String(logging.FieldEventType, "service_unregistered"),
		)
	}
}

// AwaitNotice blocks until a shutdown notice is broadcast to the token's
// service or ctx is cancelled. Clients long-poll this from their own
// goroutine.
func (g *Gateway) AwaitNotice(ctx context.Context, token string) (Notice, error) {
	g.mu.Lock()
	reg, ok := g.services[token]
	g.mu.Unlock()
	if !ok {
		return Notice{}, ErrUnknownToken
	}

	select {
	case notice, open := <-reg.notices:
		if !open {
			return Notice{}, ErrUnknownToken
		}
		return notice, nil
	case <-ctx.Done():
		return Notice{}, ctx.Err()
	}
}

// Ack records a service's acknowledgement of the current round. Acks outside
// a round are accepted and ignored, so a slow service acking after the
// deadline does not see an error.
func (g *Gateway) Ack(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	reg, ok := g.services[token]
	if !ok {
		return ErrUnknownToken
	}
	if g.pending == nil {
		return nil
	}
	if _, waiting := g.pending[token]; !waiting {
		return nil
	}
	delete(g.pending, token)
	g.logger.Info("service acknowledged shutdown",
		logging.String(logging.FieldService, reg.name),
		logging.String(logging.FieldEventType, "service_acked"),
	)
	if len(g.pending) == 0 && g.done != nil {
		close(g.done)
		g.done = nil
	}
	return nil
}

// Registered lists the currently registered service names, sorted.
func (g *Gateway) Registered() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.services))
	for _, reg := range g.services {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}

// NotifyAll broadcasts the notice to every registered service and waits
// until all have acked, the deadline passes, or ctx is cancelled. It always
// returns a summary; a nil error does not imply every service acked.
func (g *Gateway) NotifyAll(ctx context.Context, notice Notice) AckSummary {
	g.mu.Lock()
	g.pending = make(map[string]string, len(g.services))
	done := make(chan struct{})
	g.done = done
	for token, reg := range g.services {
		g.pending[token] = reg.name
		// Buffered channel: replace any stale notice rather than block.
		select {
		case reg.notices <- notice:
		default:
			select {
			case <-reg.notices:
			default:
			}
			reg.notices <- notice
		}
	}
	notified := len(g.pending)
	g.mu.Unlock()

	if notified == 0 {
		return AckSummary{}
	}

	var timer *time.Timer
	var expired <-chan time.Time
	if !notice.Deadline.IsZero() {
		wait := time.Until(notice.Deadline)
		if wait < 0 {
			wait = 0
		}
		timer = time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
	case <-expired:
	case <-ctx.Done():
	}

	g.mu.Lock()
	missed := make([]string, 0, len(g.pending))
	for _, name := range g.pending {
		missed = append(missed, name)
	}
	g.pending = nil
	if g.done != nil {
		g.done = nil
	}
	g.mu.Unlock()

	sort.Strings(missed)
	summary := AckSummary{
		Notified: notified,
		Acked:    notified - len(missed),
		Missed:   missed,
	}
	if len(missed) > 0 {
		g.logger.Warn("services missed the acknowledgement window",
			logging.Any("services", missed),
			logging.String(logging.FieldEventType, "ack_window_missed"),
			logging.String(logging.FieldErrorHint, "check that the listed services long-poll for notices"),
			logging.String(logging.FieldImpact, "their in-flight work may be cut off by power removal"),
		)
	}
	return summary
}
