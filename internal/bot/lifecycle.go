package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/nazuninha/wabot/internal/domain"
	"github.com/nazuninha/wabot/internal/metrics"
)

// ReconnectPolicy bounds the supervised reconnect loop and the QR pairing
// window.
type ReconnectPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	QRWindow    time.Duration
}

type verdictKind int

const (
	verdictClosed verdictKind = iota // non-terminal close, reconnect policy applies
	verdictStopped
	verdictLoggedOut
	verdictQRExpired
)

type verdict struct {
	kind    verdictKind
	sawOpen bool
}

// lifecycle supervises one session's connection: it owns the event worker,
// the reconnect loop, and the session's pending replies. Each attempt opens
// a fresh transport handle and fully drains the previous one, so listeners
// never accumulate across reconnects.
type lifecycle struct {
	id       string
	reg      *Registry
	pipeline *Pipeline
	clock    clockwork.Clock
	policy   ReconnectPolicy
	limiter  *rate.Limiter

	pending *pendingReplies
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}
	stop0   sync.Once

	mu     sync.Mutex
	handle domain.TransportHandle
}

func newLifecycle(id string, reg *Registry, pipeline *Pipeline, clock clockwork.Clock, policy ReconnectPolicy, limiter *rate.Limiter) *lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return &lifecycle{
		id:       id,
		reg:      reg,
		pipeline: pipeline,
		clock:    clock,
		policy:   policy,
		limiter:  limiter,
		pending:  newPendingReplies(clock),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// run is the supervision loop: open, consume until close, then either stop
// on a terminal reason or back off and retry with a fresh handle. Runs as
// the session's single worker goroutine.
func (l *lifecycle) run() {
	defer close(l.doneCh)

	attempts := 0
	for {
		v := l.attempt()

		if v.sawOpen {
			attempts = 0
		}

		switch v.kind {
		case verdictStopped:
			return

		case verdictLoggedOut:
			if err := l.reg.creds.Invalidate(l.ctx, l.id); err != nil {
				slog.Error("Failed to invalidate credential", "session_id", l.id, "error", err)
			}
			l.finish(domain.CloseLoggedOut)
			return

		case verdictQRExpired:
			l.finish(domain.CloseQRExpired)
			return

		case verdictClosed:
			// Replies scheduled under the dead connection must not fire.
			l.pending.CancelGeneration()

			if attempts >= l.policy.MaxAttempts {
				l.finish(domain.CloseReconnectExhausted)
				return
			}
			attempts++
			metrics.ReconnectAttemptsTotal.Inc()

			backoff := backoffFor(l.policy, attempts)
			l.reg.setStatus(l.id, domain.StatusReconnecting, domain.CloseNone)
			slog.Info("Scheduling reconnect",
				"session_id", l.id,
				"attempt", attempts,
				"max_attempts", l.policy.MaxAttempts,
				"backoff", backoff,
			)

			select {
			case <-l.clock.After(backoff):
			case <-l.stopCh:
				return
			}
		}
	}
}

// attempt opens one transport handle and consumes its events to completion.
func (l *lifecycle) attempt() verdict {
	var credential []byte
	stored, err := l.reg.creds.Load(l.ctx, l.id)
	if err == nil {
		credential = stored
	} else if err != domain.ErrCredentialMissing {
		slog.Error("Failed to load credential", "session_id", l.id, "error", err)
	}

	handle, err := l.reg.transport.Open(l.ctx, l.id, credential)
	if err != nil {
		select {
		case <-l.stopCh:
			return verdict{kind: verdictStopped}
		default:
		}
		slog.Warn("Transport open failed", "session_id", l.id, "error", err)
		return verdict{kind: verdictClosed}
	}

	l.setHandle(handle)
	v := l.consume(handle)
	l.setHandle(nil)
	return v
}

// consume is the sequential event loop for one handle. It returns once the
// handle dies, the QR window elapses, or the session is stopped. The handle
// is closed and its event stream drained before returning, detaching every
// subscription of this attempt.
func (l *lifecycle) consume(handle domain.TransportHandle) verdict {
	defer func() {
		_ = handle.Close()
		for range handle.Events() {
		}
	}()

	var qrTimer clockwork.Timer
	var qrExpiredCh <-chan time.Time
	defer func() {
		if qrTimer != nil {
			qrTimer.Stop()
		}
	}()

	sawOpen := false
	for {
		select {
		case <-l.stopCh:
			return verdict{kind: verdictStopped, sawOpen: sawOpen}

		case <-qrExpiredCh:
			slog.Warn("Pairing window elapsed", "session_id", l.id, "window", l.policy.QRWindow)
			return verdict{kind: verdictQRExpired, sawOpen: sawOpen}

		case evt, ok := <-handle.Events():
			if !ok {
				return verdict{kind: verdictClosed, sawOpen: sawOpen}
			}

			switch e := evt.(type) {
			case domain.EventQR:
				image, err := l.reg.encodeQR(e.Code)
				if err != nil {
					slog.Error("Failed to encode QR code", "session_id", l.id, "error", err)
					continue
				}
				l.reg.setQR(l.id, image)
				l.reg.setStatus(l.id, domain.StatusPairing, domain.CloseNone)
				if qrTimer == nil {
					qrTimer = l.clock.NewTimer(l.policy.QRWindow)
					qrExpiredCh = qrTimer.Chan()
				} else {
					qrTimer.Reset(l.policy.QRWindow)
				}

			case domain.EventOpened:
				sawOpen = true
				if qrTimer != nil {
					qrTimer.Stop()
					qrTimer = nil
					qrExpiredCh = nil
				}
				l.reg.clearQR(l.id)
				l.reg.markConnected(l.id, e.PhoneNumber)

			case domain.EventMessage:
				l.pipeline.Handle(l, e)

			case domain.EventCredentials:
				if err := l.reg.creds.Save(l.ctx, l.id, e.Credential); err != nil {
					slog.Error("Failed to persist credential", "session_id", l.id, "error", err)
				}

			case domain.EventClosed:
				if e.Reason == domain.CloseLoggedOut {
					slog.Info("Session logged out", "session_id", l.id)
					return verdict{kind: verdictLoggedOut, sawOpen: sawOpen}
				}
				slog.Warn("Connection closed", "session_id", l.id, "reason", e.Reason, "error", e.Err)
				return verdict{kind: verdictClosed, sawOpen: sawOpen}
			}
		}
	}
}

// finish records a terminal close and releases the session's live state.
func (l *lifecycle) finish(reason domain.CloseReason) {
	l.pending.CancelAll()
	l.reg.sessionClosed(l.id, reason)
}

// stop tears the session down: no pending reply fires afterwards and the
// worker has fully detached from the transport when stop returns.
func (l *lifecycle) stop() {
	l.stop0.Do(func() {
		close(l.stopCh)
		l.cancel()
		l.pending.CancelAll()
		l.mu.Lock()
		handle := l.handle
		l.mu.Unlock()
		if handle != nil {
			_ = handle.Close()
		}
	})
	<-l.doneCh
}

func (l *lifecycle) setHandle(h domain.TransportHandle) {
	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()
}

func (l *lifecycle) currentHandle() domain.TransportHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}

// --- pipelineSession implementation ---

func (l *lifecycle) SessionID() string        { return l.id }
func (l *lifecycle) Context() context.Context { return l.ctx }

func (l *lifecycle) Schedule(delay time.Duration, fire func()) bool {
	return l.pending.Schedule(delay, fire)
}

func (l *lifecycle) Send(ctx context.Context, target, content string) error {
	handle := l.currentHandle()
	if handle == nil {
		return domain.ErrNotConnected
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := handle.Send(ctx, target, content); err != nil {
		return err
	}
	l.reg.touch(l.id)
	return nil
}

func (l *lifecycle) MarkRead(ctx context.Context, target, messageID string) error {
	handle := l.currentHandle()
	if handle == nil {
		return domain.ErrNotConnected
	}
	return handle.MarkRead(ctx, target, messageID)
}

func (l *lifecycle) Stats() *sessionStats {
	return l.reg.statsFor(l.id)
}

// backoffFor doubles the base delay per attempt, capped.
func backoffFor(p ReconnectPolicy, attempt int) time.Duration {
	backoff := p.Base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && backoff > p.Cap {
		return p.Cap
	}
	return backoff
}
