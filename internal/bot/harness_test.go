package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nazuninha/wabot/internal/domain"
)

// In-memory stores and a scripted transport shared by the package tests.

type memSessionStore struct {
	mu      sync.Mutex
	records map[string]domain.SessionRecord
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{records: make(map[string]domain.SessionRecord)}
}

func (m *memSessionStore) GetSession(_ context.Context, id string) (*domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &rec, nil
}

func (m *memSessionStore) ListSessions(_ context.Context) ([]domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]domain.SessionRecord, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	return records, nil
}

func (m *memSessionStore) SaveSession(_ context.Context, rec domain.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memSessionStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memSessionStore) get(id string) (domain.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

type memCredentialStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{blobs: make(map[string][]byte)}
}

func (m *memCredentialStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[sessionID]
	if !ok {
		return nil, domain.ErrCredentialMissing
	}
	return blob, nil
}

func (m *memCredentialStore) Save(_ context.Context, sessionID string, credential []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[sessionID] = credential
	return nil
}

func (m *memCredentialStore) Invalidate(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, sessionID)
	return nil
}

type memSettingsStore struct {
	mu      sync.Mutex
	current *domain.Settings
	// saveErrs is consumed one entry per SaveSettings call; nil entries succeed.
	saveErrs []error
	saves    int
}

func (m *memSettingsStore) LoadSettings(_ context.Context) (*domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, domain.ErrSettingsNotFound
	}
	cp := *m.current
	return &cp, nil
}

func (m *memSettingsStore) SaveSettings(_ context.Context, s domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	cp := s
	m.current = &cp
	return nil
}

func (m *memSettingsStore) put(s domain.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.current = &cp
}

func (m *memSettingsStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type sendCall struct {
	target  string
	content string
}

type markCall struct {
	target    string
	messageID string
}

// fakeHandle is one scripted transport connection. Tests push events with
// emit; the lifecycle closes the channel through Close.
type fakeHandle struct {
	events chan domain.TransportEvent
	once   sync.Once

	mu      sync.Mutex
	sends   []sendCall
	marks   []markCall
	sendErr error
	markErr error
	closed  bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan domain.TransportEvent, 16)}
}

func (h *fakeHandle) Events() <-chan domain.TransportEvent { return h.events }

func (h *fakeHandle) Send(_ context.Context, target, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sends = append(h.sends, sendCall{target: target, content: content})
	return nil
}

func (h *fakeHandle) MarkRead(_ context.Context, target, messageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.markErr != nil {
		return h.markErr
	}
	h.marks = append(h.marks, markCall{target: target, messageID: messageID})
	return nil
}

func (h *fakeHandle) Close() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.events)
	})
	return nil
}

func (h *fakeHandle) emit(evt domain.TransportEvent) { h.events <- evt }

func (h *fakeHandle) sendCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sends)
}

func (h *fakeHandle) sentCalls() []sendCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sendCall(nil), h.sends...)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeTransport hands out one fresh fakeHandle per Open call and records the
// credential each attempt was given.
type fakeTransport struct {
	mu          sync.Mutex
	opened      []*fakeHandle
	credentials [][]byte
	queue       chan *fakeHandle
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{queue: make(chan *fakeHandle, 16)}
}

func (tr *fakeTransport) Open(_ context.Context, _ string, credential []byte) (domain.TransportHandle, error) {
	h := newFakeHandle()
	tr.mu.Lock()
	tr.opened = append(tr.opened, h)
	tr.credentials = append(tr.credentials, append([]byte(nil), credential...))
	tr.mu.Unlock()
	tr.queue <- h
	return h, nil
}

// waitOpen blocks until the lifecycle opens its next handle.
func (tr *fakeTransport) waitOpen(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-tr.queue:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not opened in time")
		return nil
	}
}

func (tr *fakeTransport) openCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.opened)
}

func (tr *fakeTransport) credentialAt(i int) []byte {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.credentials[i]
}

// testEnv wires a registry against the in-memory fakes.
type testEnv struct {
	reg      *Registry
	tr       *fakeTransport
	store    *memSessionStore
	creds    *memCredentialStore
	settings *SettingsService
}

func newTestEnv(t *testing.T, cfg domain.Settings, policy ReconnectPolicy) *testEnv {
	t.Helper()

	store := newMemSessionStore()
	creds := newMemCredentialStore()
	settingsStore := &memSettingsStore{}
	settingsStore.put(cfg)

	clock := clockwork.NewRealClock()
	svc, err := NewSettingsService(context.Background(), settingsStore, clock, nil)
	require.NoError(t, err)

	tr := newFakeTransport()
	reg := NewRegistry(RegistryOptions{
		Store:       store,
		Credentials: creds,
		Transport:   tr,
		EncodeQR:    func(code string) (string, error) { return "img:" + code, nil },
		Settings:    svc,
		Clock:       clock,
		Policy:      policy,
		SendRate:    rate.Inf,
		SendBurst:   1,
	})

	return &testEnv{reg: reg, tr: tr, store: store, creds: creds, settings: svc}
}

func testPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Base:        time.Millisecond,
		Cap:         4 * time.Millisecond,
		MaxAttempts: 3,
		QRWindow:    time.Minute,
	}
}

func (e *testEnv) info(id string) (domain.SessionInfo, bool) {
	for _, s := range e.reg.ListSessions() {
		if s.ID == id {
			return s, true
		}
	}
	return domain.SessionInfo{}, false
}

func (e *testEnv) status(id string) domain.SessionStatus {
	info, ok := e.info(id)
	if !ok {
		return ""
	}
	return info.Status
}

// waitStatus polls until the session reaches the wanted status.
func (e *testEnv) waitStatus(t *testing.T, id string, want domain.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.status(id) == want
	}, 2*time.Second, 2*time.Millisecond, "session %s never reached status %s", id, want)
}
