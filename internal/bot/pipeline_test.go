package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazuninha/wabot/internal/domain"
)

// fakePipelineSession records sends, read receipts and scheduled replies.
// Scheduled replies fire only when the test invokes them, which keeps the
// delay handling deterministic.
type fakePipelineSession struct {
	id    string
	stats sessionStats

	mu        sync.Mutex
	sends     []sendCall
	marks     []markCall
	sendErr   error
	markErr   error
	scheduled []scheduledReply
	rejectAll bool
}

type scheduledReply struct {
	delay time.Duration
	fire  func()
}

func (f *fakePipelineSession) SessionID() string        { return f.id }
func (f *fakePipelineSession) Context() context.Context { return context.Background() }
func (f *fakePipelineSession) Stats() *sessionStats     { return &f.stats }

func (f *fakePipelineSession) Schedule(delay time.Duration, fire func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll {
		return false
	}
	f.scheduled = append(f.scheduled, scheduledReply{delay: delay, fire: fire})
	return true
}

func (f *fakePipelineSession) Send(_ context.Context, target, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sendCall{target: target, content: content})
	return nil
}

func (f *fakePipelineSession) MarkRead(_ context.Context, target, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marks = append(f.marks, markCall{target: target, messageID: messageID})
	return nil
}

func (f *fakePipelineSession) fireAll() {
	f.mu.Lock()
	pending := append([]scheduledReply(nil), f.scheduled...)
	f.scheduled = nil
	f.mu.Unlock()
	for _, r := range pending {
		r.fire()
	}
}

func (f *fakePipelineSession) scheduledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func (f *fakePipelineSession) scheduledDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	delays := make([]time.Duration, len(f.scheduled))
	for i, r := range f.scheduled {
		delays[i] = r.delay
	}
	return delays
}

func (f *fakePipelineSession) sentCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakePipelineSession) markCalls() []markCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]markCall(nil), f.marks...)
}

func newTestPipeline(t *testing.T, cfg domain.Settings) (*Pipeline, *memSettingsStore) {
	t.Helper()
	store := &memSettingsStore{}
	store.put(cfg)
	svc := newTestSettingsService(t, store)
	p := NewPipeline(svc, clockwork.NewRealClock())
	p.randInt = func(int) int { return 0 }
	return p, store
}

func enabledSettings() domain.Settings {
	cfg := domain.DefaultSettings()
	cfg.AutoReply.Enabled = true
	cfg.ResponseDelay = domain.ResponseDelay{Min: 1000, Max: 1000}
	return cfg
}

func inboundMessage(body string) domain.EventMessage {
	return domain.EventMessage{
		ID:        "msg-1",
		From:      "5511999999999@s.whatsapp.net",
		Body:      body,
		Timestamp: time.Now(),
	}
}

func TestPipelineIgnoresOwnMessages(t *testing.T) {
	p, _ := newTestPipeline(t, enabledSettings())
	sess := &fakePipelineSession{id: "s1"}

	msg := inboundMessage("hello")
	msg.FromSelf = true
	p.Handle(sess, msg)

	assert.Equal(t, int64(0), sess.stats.received.Load())
	assert.Equal(t, 0, sess.scheduledCount())
}

func TestPipelineCountsReceivedEvenWhenReplyDisabled(t *testing.T) {
	cfg := domain.DefaultSettings() // autoReply disabled
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	p.Handle(sess, inboundMessage("hello"))

	assert.Equal(t, int64(1), sess.stats.received.Load())
	assert.Equal(t, 0, sess.scheduledCount())
	assert.Empty(t, sess.sentCalls())
}

func TestPipelineAutoReadMarksMessage(t *testing.T) {
	cfg := enabledSettings()
	cfg.AutoRead = true
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	msg := inboundMessage("hello")
	p.Handle(sess, msg)

	marks := sess.markCalls()
	require.Len(t, marks, 1)
	assert.Equal(t, msg.From, marks[0].target)
	assert.Equal(t, msg.ID, marks[0].messageID)
}

func TestPipelineAutoReadFailureStillSchedulesReply(t *testing.T) {
	cfg := enabledSettings()
	cfg.AutoRead = true
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1", markErr: errors.New("socket gone")}

	p.Handle(sess, inboundMessage("hello"))

	assert.Equal(t, int64(1), sess.stats.errors.Load())
	assert.Equal(t, 1, sess.scheduledCount(), "read receipt failure must not drop the reply")
}

func TestPipelineDelayDrawnFromConfiguredRange(t *testing.T) {
	cfg := enabledSettings()
	cfg.ResponseDelay = domain.ResponseDelay{Min: 2000, Max: 6000}
	p, _ := newTestPipeline(t, cfg)

	// randInt sees the inclusive range width.
	var sawN int
	p.randInt = func(n int) int {
		sawN = n
		return n - 1
	}

	sess := &fakePipelineSession{id: "s1"}
	p.Handle(sess, inboundMessage("hello"))

	assert.Equal(t, 4001, sawN)
	delays := sess.scheduledDelays()
	require.Len(t, delays, 1)
	assert.Equal(t, 6*time.Second, delays[0])
}

func TestPipelineFixedDelayWhenMinEqualsMax(t *testing.T) {
	p, _ := newTestPipeline(t, enabledSettings())
	sess := &fakePipelineSession{id: "s1"}

	p.Handle(sess, inboundMessage("hello"))

	delays := sess.scheduledDelays()
	require.Len(t, delays, 1)
	assert.Equal(t, time.Second, delays[0])
}

func TestPipelineTemplateMatchIsCaseInsensitive(t *testing.T) {
	p, _ := newTestPipeline(t, enabledSettings())
	sess := &fakePipelineSession{id: "s1"}

	msg := inboundMessage("  !WELCOME ")
	p.Handle(sess, msg)
	sess.fireAll()

	sent := sess.sentCalls()
	require.Len(t, sent, 1)
	assert.Equal(t, msg.From, sent[0].target)
	assert.Equal(t, "Welcome! How can I help you today?", sent[0].content)
	assert.Equal(t, int64(1), sess.stats.sent.Load())
}

func TestPipelineFirstMatchingTemplateWins(t *testing.T) {
	cfg := enabledSettings()
	cfg.MessageTemplates = []domain.MessageTemplate{
		{ID: "a", Trigger: "!hi", Content: "first"},
		{ID: "b", Trigger: "!hi", Content: "second"},
	}
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	p.Handle(sess, inboundMessage("!hi"))
	sess.fireAll()

	sent := sess.sentCalls()
	require.Len(t, sent, 1)
	assert.Equal(t, "first", sent[0].content)
}

func TestPipelineFallsBackToDefaultReply(t *testing.T) {
	cfg := enabledSettings()
	cfg.AutoReply.Message = "default reply"
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	p.Handle(sess, inboundMessage("no trigger here"))
	sess.fireAll()

	sent := sess.sentCalls()
	require.Len(t, sent, 1)
	assert.Equal(t, "default reply", sent[0].content)
}

func TestPipelineNoReplyWithoutMatchOrDefault(t *testing.T) {
	cfg := enabledSettings()
	cfg.AutoReply.Message = ""
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	p.Handle(sess, inboundMessage("no trigger here"))
	sess.fireAll()

	assert.Empty(t, sess.sentCalls())
	assert.Equal(t, int64(0), sess.stats.sent.Load())
}

func TestPipelineReplySkippedWhenDisabledDuringDelay(t *testing.T) {
	p, store := newTestPipeline(t, enabledSettings())
	sess := &fakePipelineSession{id: "s1"}

	p.Handle(sess, inboundMessage("hello"))
	require.Equal(t, 1, sess.scheduledCount())

	// Auto-reply is switched off while the reply is pending.
	disabled := enabledSettings()
	disabled.AutoReply.Enabled = false
	store.put(disabled)
	require.NoError(t, p.settings.Reload(context.Background()))

	sess.fireAll()
	assert.Empty(t, sess.sentCalls())
}

func TestPipelineAbsenceMessageOutsideWorkingHours(t *testing.T) {
	cfg := enabledSettings()
	cfg.WorkingHours = domain.WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "UTC"}
	cfg.AbsenceMessage = "back tomorrow"
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	msg := inboundMessage("hello")
	msg.Timestamp = time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC)
	p.Handle(sess, msg)

	// The absence message goes out immediately; no delayed reply exists.
	sent := sess.sentCalls()
	require.Len(t, sent, 1)
	assert.Equal(t, "back tomorrow", sent[0].content)
	assert.Equal(t, 0, sess.scheduledCount())
	assert.Equal(t, int64(1), sess.stats.sent.Load())
}

func TestPipelineNoAbsenceMessageWhenUnset(t *testing.T) {
	cfg := enabledSettings()
	cfg.WorkingHours = domain.WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "UTC"}
	cfg.AbsenceMessage = ""
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	msg := inboundMessage("hello")
	msg.Timestamp = time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC)
	p.Handle(sess, msg)

	assert.Empty(t, sess.sentCalls())
	assert.Equal(t, 0, sess.scheduledCount())
}

func TestPipelineSchedulesInsideWorkingHours(t *testing.T) {
	cfg := enabledSettings()
	cfg.WorkingHours = domain.WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "UTC"}
	p, _ := newTestPipeline(t, cfg)
	sess := &fakePipelineSession{id: "s1"}

	msg := inboundMessage("hello")
	msg.Timestamp = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p.Handle(sess, msg)

	assert.Equal(t, 1, sess.scheduledCount())
	assert.Empty(t, sess.sentCalls())
}

func TestPipelineSendFailureCountsError(t *testing.T) {
	p, _ := newTestPipeline(t, enabledSettings())
	sess := &fakePipelineSession{id: "s1", sendErr: errors.New("socket gone")}

	p.Handle(sess, inboundMessage("!welcome"))
	sess.fireAll()

	assert.Equal(t, int64(1), sess.stats.errors.Load())
	assert.Equal(t, int64(0), sess.stats.sent.Load())
}

func TestInsideWorkingHours(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2024, 3, 1, hour, minute, 0, 0, time.UTC)
	}
	window := func(start, end string) domain.WorkingHours {
		return domain.WorkingHours{Enabled: true, Start: start, End: end, Timezone: "UTC"}
	}

	tests := []struct {
		name string
		wh   domain.WorkingHours
		at   time.Time
		want bool
	}{
		{"inside plain window", window("09:00", "17:00"), at(12, 0), true},
		{"start is inclusive", window("09:00", "17:00"), at(9, 0), true},
		{"end is exclusive", window("09:00", "17:00"), at(17, 0), false},
		{"before window", window("09:00", "17:00"), at(8, 59), false},
		{"overnight window evening", window("22:00", "06:00"), at(23, 30), true},
		{"overnight window morning", window("22:00", "06:00"), at(5, 59), true},
		{"overnight window midday", window("22:00", "06:00"), at(12, 0), false},
		{"empty window never matches", window("09:00", "09:00"), at(9, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := insideWorkingHours(tt.wh, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsideWorkingHoursRespectsTimezone(t *testing.T) {
	wh := domain.WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "America/Sao_Paulo"}

	// 13:00 UTC is 10:00 in Sao Paulo (UTC-3): inside.
	inside, err := insideWorkingHours(wh, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, inside)

	// 21:00 UTC is 18:00 in Sao Paulo: outside.
	inside, err = insideWorkingHours(wh, time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, inside)
}
