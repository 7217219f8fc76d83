package bot

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/nazuninha/wabot/internal/domain"
	"github.com/nazuninha/wabot/internal/metrics"
)

// sessionStats counts pipeline activity. Updated atomically so concurrent
// messages on the same session never lose increments.
type sessionStats struct {
	received atomic.Int64
	sent     atomic.Int64
	errors   atomic.Int64
}

func (s *sessionStats) snapshot() domain.SessionStats {
	return domain.SessionStats{
		Received: s.received.Load(),
		Sent:     s.sent.Load(),
		Errors:   s.errors.Load(),
	}
}

// session is the registry's in-memory record of one session. The registry
// map is the authoritative state; the store is a persistence sink.
type session struct {
	id            string
	phoneNumber   string
	name          string
	autoReconnect bool
	status        domain.SessionStatus
	reason        domain.CloseReason
	lastActive    time.Time
	qr            string
	stats         sessionStats
	rt            *lifecycle // nil when no live connection
}

// Registry is the single source of truth for session existence and status,
// and the sole owner of live connection handles and cached QR images.
type Registry struct {
	store     domain.SessionStore
	creds     domain.CredentialStore
	transport domain.Transport
	encodeQR  domain.QREncoder
	pipeline  *Pipeline
	clock     clockwork.Clock
	policy    ReconnectPolicy
	sendRate  rate.Limit
	sendBurst int
	startedAt time.Time

	group    singleflight.Group
	onChange atomic.Pointer[func()]

	mu       sync.RWMutex
	sessions map[string]*session
}

// RegistryOptions collects the registry's collaborators and tuning knobs.
type RegistryOptions struct {
	Store       domain.SessionStore
	Credentials domain.CredentialStore
	Transport   domain.Transport
	EncodeQR    domain.QREncoder
	Settings    *SettingsService
	Clock       clockwork.Clock
	Policy      ReconnectPolicy
	SendRate    rate.Limit
	SendBurst   int
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.SendRate == 0 {
		opts.SendRate = rate.Inf
	}
	if opts.SendBurst == 0 {
		opts.SendBurst = 1
	}
	r := &Registry{
		store:     opts.Store,
		creds:     opts.Credentials,
		transport: opts.Transport,
		encodeQR:  opts.EncodeQR,
		clock:     opts.Clock,
		policy:    opts.Policy,
		sendRate:  opts.SendRate,
		sendBurst: opts.SendBurst,
		startedAt: opts.Clock.Now(),
		sessions:  make(map[string]*session),
	}
	r.pipeline = NewPipeline(opts.Settings, opts.Clock)
	return r
}

// SetOnChange registers a hook invoked after every status change, used to
// push fresh snapshots to dashboard clients.
func (r *Registry) SetOnChange(fn func()) {
	r.onChange.Store(&fn)
}

// Restore loads persisted session records into the registry and starts
// every session flagged for automatic reconnection. Called once at boot.
func (r *Registry) Restore(ctx context.Context) error {
	records, err := r.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, rec := range records {
		s := &session{
			id:            rec.ID,
			phoneNumber:   rec.PhoneNumber,
			name:          rec.Name,
			autoReconnect: rec.AutoReconnect,
			status:        domain.StatusIdle,
			lastActive:    rec.LastActive,
		}
		s.stats.received.Store(rec.Stats.Received)
		s.stats.sent.Store(rec.Stats.Sent)
		s.stats.errors.Store(rec.Stats.Errors)
		r.sessions[rec.ID] = s
	}
	r.mu.Unlock()

	for _, rec := range records {
		if !rec.AutoReconnect {
			continue
		}
		if _, err := r.StartSession(ctx, rec.ID); err != nil {
			slog.Error("Failed to restore session", "session_id", rec.ID, "error", err)
		}
	}

	slog.Info("Session registry restored", "sessions", len(records))
	return nil
}

// StartSession begins pairing (or resuming) the session. With an empty id a
// fresh session is created. Repeated calls while the session is still
// pairing are idempotent; a live connection yields ErrAlreadyConnected.
func (r *Registry) StartSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = "session_" + uuid.NewString()
	}

	_, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		s := r.sessions[id]
		if s != nil && s.rt != nil {
			switch s.status {
			case domain.StatusConnected, domain.StatusReconnecting:
				return nil, domain.ErrAlreadyConnected
			default:
				// Still pairing or about to; nothing to do.
				return nil, nil
			}
		}

		if s == nil {
			s = &session{
				id:         id,
				status:     domain.StatusIdle,
				lastActive: r.clock.Now(),
			}
			r.sessions[id] = s
		}

		s.status = domain.StatusIdle
		s.reason = domain.CloseNone
		s.qr = ""
		limiter := rate.NewLimiter(r.sendRate, r.sendBurst)
		s.rt = newLifecycle(id, r, r.pipeline, r.clock, r.policy, limiter)
		go s.rt.run()

		r.persistLocked(s)
		r.updateGaugesLocked()
		slog.Info("Session starting", "session_id", id)
		return nil, nil
	})
	if err != nil {
		return "", err
	}

	r.notifyChanged()
	return id, nil
}

// StopSession tears the session down. When it returns, the transport is
// detached and no pending reply for the session will fire.
func (r *Registry) StopSession(ctx context.Context, id string) error {
	r.mu.RLock()
	s := r.sessions[id]
	var rt *lifecycle
	if s != nil {
		rt = s.rt
	}
	r.mu.RUnlock()

	if s == nil {
		return domain.ErrSessionNotFound
	}
	if rt == nil {
		return domain.ErrNotConnected
	}

	rt.stop()

	r.mu.Lock()
	if s.rt == rt {
		s.rt = nil
	}
	s.status = domain.StatusClosed
	s.reason = domain.CloseRequested
	s.autoReconnect = false
	s.qr = ""
	r.persistLocked(s)
	r.updateGaugesLocked()
	r.mu.Unlock()

	metrics.SessionsClosedTotal.WithLabelValues(string(domain.CloseRequested)).Inc()
	slog.Info("Session stopped", "session_id", id)
	r.notifyChanged()
	return nil
}

// RemoveSession disconnects (if needed) and deletes the session record and
// its credentials.
func (r *Registry) RemoveSession(ctx context.Context, id string) error {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	if s == nil {
		return domain.ErrSessionNotFound
	}

	if err := r.StopSession(ctx, id); err != nil && err != domain.ErrNotConnected {
		return err
	}

	if err := r.store.DeleteSession(ctx, id); err != nil {
		return &domain.PersistenceError{Op: "delete session", Err: err}
	}
	if err := r.creds.Invalidate(ctx, id); err != nil {
		slog.Error("Failed to remove credential", "session_id", id, "error", err)
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.updateGaugesLocked()
	r.mu.Unlock()

	slog.Info("Session removed", "session_id", id)
	r.notifyChanged()
	return nil
}

// RenameSession updates the session's display name.
func (r *Registry) RenameSession(ctx context.Context, id, name string) error {
	r.mu.Lock()
	s := r.sessions[id]
	if s == nil {
		r.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	s.name = name
	r.persistLocked(s)
	r.mu.Unlock()

	r.notifyChanged()
	return nil
}

// GetQRCode returns the cached pairing image. Present if and only if the
// session is currently pairing.
func (r *Registry) GetQRCode(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.sessions[id]
	if s == nil || s.status != domain.StatusPairing || s.qr == "" {
		return "", false
	}
	return s.qr, true
}

// ListSessions returns a snapshot of every session. No live handles leak
// out of the registry.
func (r *Registry) ListSessions() []domain.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, domain.SessionInfo{
			ID:           s.id,
			PhoneNumber:  s.phoneNumber,
			Name:         s.name,
			Status:       s.status,
			CloseReason:  s.reason,
			Stats:        s.stats.snapshot(),
			LastActiveAt: s.lastActive,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stats aggregates the dashboard overview.
func (r *Registry) Stats() domain.DashboardStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.DashboardStats{
		TotalSessions: len(r.sessions),
		UptimeSeconds: int64(r.clock.Since(r.startedAt).Seconds()),
	}
	for _, s := range r.sessions {
		if s.status == domain.StatusConnected {
			stats.ConnectedSessions++
		}
		snap := s.stats.snapshot()
		stats.MessagesReceived += snap.Received
		stats.MessagesSent += snap.Sent
		stats.Errors += snap.Errors
	}
	return stats
}

// Shutdown stops every live session concurrently, persisting them as
// disconnected so a restart resumes them.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	var live []*lifecycle
	for _, s := range r.sessions {
		if s.rt != nil {
			live = append(live, s.rt)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rt := range live {
		wg.Add(1)
		go func(rt *lifecycle) {
			defer wg.Done()
			rt.stop()
		}(rt)
	}
	wg.Wait()

	r.mu.Lock()
	for _, s := range r.sessions {
		if s.rt != nil {
			s.rt = nil
			s.status = domain.StatusIdle
			s.qr = ""
			r.persistLocked(s)
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	slog.Info("Session registry shut down", "sessions", len(live))
}

// --- lifecycle callbacks ---

func (r *Registry) setStatus(id string, status domain.SessionStatus, reason domain.CloseReason) {
	r.mu.Lock()
	s := r.sessions[id]
	if s == nil {
		r.mu.Unlock()
		return
	}
	s.status = status
	s.reason = reason
	if status != domain.StatusPairing {
		s.qr = ""
	}
	r.persistLocked(s)
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.notifyChanged()
}

func (r *Registry) markConnected(id, phoneNumber string) {
	r.mu.Lock()
	s := r.sessions[id]
	if s == nil {
		r.mu.Unlock()
		return
	}
	s.status = domain.StatusConnected
	s.reason = domain.CloseNone
	s.qr = ""
	s.lastActive = r.clock.Now()
	s.autoReconnect = true
	if phoneNumber != "" {
		s.phoneNumber = phoneNumber
	}
	r.persistLocked(s)
	r.updateGaugesLocked()
	r.mu.Unlock()

	slog.Info("Session connected", "session_id", id, "phone_number", phoneNumber)
	r.notifyChanged()
}

// sessionClosed records a terminal close initiated by the lifecycle itself.
func (r *Registry) sessionClosed(id string, reason domain.CloseReason) {
	r.mu.Lock()
	s := r.sessions[id]
	if s == nil {
		r.mu.Unlock()
		return
	}
	s.rt = nil
	s.status = domain.StatusClosed
	s.reason = reason
	s.qr = ""
	if reason == domain.CloseLoggedOut {
		s.autoReconnect = false
	}
	r.persistLocked(s)
	r.updateGaugesLocked()
	r.mu.Unlock()

	metrics.SessionsClosedTotal.WithLabelValues(string(reason)).Inc()
	slog.Info("Session closed", "session_id", id, "reason", reason)
	r.notifyChanged()
}

func (r *Registry) setQR(id, image string) {
	r.mu.Lock()
	if s := r.sessions[id]; s != nil {
		s.qr = image
	}
	r.mu.Unlock()

	metrics.QRCodesGeneratedTotal.Inc()
}

func (r *Registry) clearQR(id string) {
	r.mu.Lock()
	if s := r.sessions[id]; s != nil {
		s.qr = ""
	}
	r.mu.Unlock()
}

func (r *Registry) touch(id string) {
	r.mu.Lock()
	if s := r.sessions[id]; s != nil {
		s.lastActive = r.clock.Now()
	}
	r.mu.Unlock()
}

func (r *Registry) statsFor(id string) *sessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s := r.sessions[id]; s != nil {
		return &s.stats
	}
	// Session removed mid-flight; counters go nowhere.
	return &sessionStats{}
}

// persistLocked flushes the session to the store. The store is a sink; a
// failure is logged, never allowed to corrupt in-memory state.
func (r *Registry) persistLocked(s *session) {
	rec := domain.SessionRecord{
		ID:            s.id,
		PhoneNumber:   s.phoneNumber,
		Name:          s.name,
		Status:        domain.PersistedStatus(s.status),
		Stats:         s.stats.snapshot(),
		LastActive:    s.lastActive,
		AutoReconnect: s.autoReconnect,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveSession(ctx, rec); err != nil {
		slog.Error("Failed to persist session record", "session_id", s.id, "error", err)
	}
}

func (r *Registry) updateGaugesLocked() {
	counts := map[domain.SessionStatus]int{}
	for _, s := range r.sessions {
		counts[s.status]++
	}
	for _, status := range []domain.SessionStatus{
		domain.StatusIdle,
		domain.StatusPairing,
		domain.StatusConnected,
		domain.StatusReconnecting,
		domain.StatusClosed,
	} {
		metrics.SessionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (r *Registry) notifyChanged() {
	if fn := r.onChange.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}
