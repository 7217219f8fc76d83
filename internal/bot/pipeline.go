package bot

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nazuninha/wabot/internal/domain"
	"github.com/nazuninha/wabot/internal/metrics"
)

// pipelineSession is the slice of a live session the pipeline needs:
// identity, the send path, scheduling, and stats. Implemented by lifecycle.
type pipelineSession interface {
	SessionID() string
	Context() context.Context
	Schedule(delay time.Duration, fire func()) bool
	Send(ctx context.Context, target, content string) error
	MarkRead(ctx context.Context, target, messageID string) error
	Stats() *sessionStats
}

// Pipeline decides, per inbound message on a connected session, whether and
// what to send back. Failures never propagate to the connection layer; they
// are logged and counted on the session's error stat.
type Pipeline struct {
	settings *SettingsService
	clock    clockwork.Clock

	// randInt returns a uniform value in [0, n). Swapped in tests.
	randInt func(n int) int
}

func NewPipeline(settings *SettingsService, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		settings: settings,
		clock:    clock,
		randInt:  rand.IntN,
	}
}

// Handle processes one inbound message. Runs on the session's event worker,
// so messages from the same session never reorder; the delayed reply itself
// fires on its own goroutine through the session's pending set.
func (p *Pipeline) Handle(sess pipelineSession, msg domain.EventMessage) {
	if msg.FromSelf {
		return
	}

	sess.Stats().received.Add(1)
	metrics.MessagesReceivedTotal.Inc()

	cfg := p.settings.Snapshot()

	if cfg.AutoRead {
		if err := sess.MarkRead(sess.Context(), msg.From, msg.ID); err != nil {
			p.fail(sess, "mark read failed", err)
		}
	}

	if !cfg.AutoReply.Enabled {
		return
	}

	if cfg.WorkingHours.Enabled {
		arrival := msg.Timestamp
		if arrival.IsZero() {
			arrival = p.clock.Now()
		}
		inside, err := insideWorkingHours(cfg.WorkingHours, arrival)
		if err != nil {
			// Settings validation should make this unreachable; fall through
			// to normal processing rather than silently dropping the message.
			p.fail(sess, "working hours evaluation failed", err)
		} else if !inside {
			if cfg.AbsenceMessage != "" {
				p.send(sess, msg.From, cfg.AbsenceMessage, "absence")
			}
			return
		}
	}

	delay := p.drawDelay(cfg.ResponseDelay)
	scheduled := sess.Schedule(delay, func() {
		p.deliverReply(sess, msg)
	})
	if !scheduled {
		slog.Debug("Reply not scheduled, session tearing down", "session_id", sess.SessionID())
	}
}

// deliverReply runs when a pending reply fires. The settings snapshot is
// re-read here so updates made during the delay are observed.
func (p *Pipeline) deliverReply(sess pipelineSession, msg domain.EventMessage) {
	cfg := p.settings.Snapshot()
	if !cfg.AutoReply.Enabled {
		return
	}

	for _, tpl := range cfg.MessageTemplates {
		if strings.EqualFold(tpl.Trigger, strings.TrimSpace(msg.Body)) {
			p.send(sess, msg.From, tpl.Content, "template")
			return
		}
	}

	if cfg.AutoReply.Message == "" {
		return
	}
	p.send(sess, msg.From, cfg.AutoReply.Message, "default")
}

func (p *Pipeline) send(sess pipelineSession, target, content, kind string) {
	start := p.clock.Now()
	err := sess.Send(sess.Context(), target, content)
	metrics.SendDuration.Observe(p.clock.Since(start).Seconds())

	if err != nil {
		p.fail(sess, "send failed", err)
		return
	}

	sess.Stats().sent.Add(1)
	metrics.RepliesSentTotal.WithLabelValues(kind).Inc()
}

// fail records a recovered pipeline failure. The session stays connected.
func (p *Pipeline) fail(sess pipelineSession, what string, err error) {
	sess.Stats().errors.Add(1)
	metrics.PipelineErrorsTotal.Inc()
	slog.Error("Pipeline "+what, "session_id", sess.SessionID(), "error", err)
}

// drawDelay picks a uniform delay from [min, max] milliseconds.
func (p *Pipeline) drawDelay(d domain.ResponseDelay) time.Duration {
	if d.Max <= d.Min {
		return time.Duration(d.Min) * time.Millisecond
	}
	ms := d.Min + p.randInt(d.Max-d.Min+1)
	return time.Duration(ms) * time.Millisecond
}

// insideWorkingHours evaluates at against the [start, end) window in the
// configured timezone. A window with start after end crosses midnight.
func insideWorkingHours(wh domain.WorkingHours, at time.Time) (bool, error) {
	loc, err := time.LoadLocation(wh.Timezone)
	if err != nil {
		return false, err
	}
	start, err := parseClockMinutes(wh.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClockMinutes(wh.End)
	if err != nil {
		return false, err
	}

	local := at.In(loc)
	current := local.Hour()*60 + local.Minute()

	if start == end {
		// Empty window: never inside.
		return false, nil
	}
	if start < end {
		return current >= start && current < end, nil
	}
	return current >= start || current < end, nil
}
