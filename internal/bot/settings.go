package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nazuninha/wabot/internal/domain"
	"github.com/nazuninha/wabot/internal/metrics"
	"github.com/nazuninha/wabot/internal/platform/retry"
)

const maxMessageLength = 1000

// SettingsService holds the live bot configuration and propagates updates
// to every session. Reads see an immutable snapshot; updates validate,
// persist, then swap the snapshot atomically so a pipeline never observes
// a half-merged value.
type SettingsService struct {
	store  domain.SettingsStore
	clock  clockwork.Clock
	notify func(ctx context.Context) error

	// updateMu serializes writers across merge, persist and swap so a slow
	// persist cannot revert a concurrent update's fields. mu only guards
	// the snapshot pointer.
	updateMu sync.Mutex
	mu       sync.RWMutex
	current  *domain.Settings
}

// NewSettingsService loads the persisted settings, seeding the store with
// defaults when no record exists yet. notify, when non-nil, is invoked after
// each successful update so other instances can reload; its failure is
// logged, not surfaced.
func NewSettingsService(ctx context.Context, store domain.SettingsStore, clock clockwork.Clock, notify func(ctx context.Context) error) (*SettingsService, error) {
	current, err := store.LoadSettings(ctx)
	if err == domain.ErrSettingsNotFound {
		defaults := domain.DefaultSettings()
		if err := store.SaveSettings(ctx, defaults); err != nil {
			return nil, fmt.Errorf("failed to seed default settings: %w", err)
		}
		current = &defaults
	} else if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return &SettingsService{
		store:   store,
		clock:   clock,
		notify:  notify,
		current: current,
	}, nil
}

// Snapshot returns the current settings. The returned value is shared and
// must not be mutated.
func (s *SettingsService) Snapshot() *domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges patch over the current settings, persists the result (one
// retry, then a PersistenceError without touching in-memory state) and
// publishes the new snapshot. Updates are serialized; each merge starts
// from the snapshot the previous writer published.
func (s *SettingsService) Update(ctx context.Context, patch domain.SettingsPatch) (*domain.Settings, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.RLock()
	merged := mergeSettings(*s.current, patch)
	s.mu.RUnlock()

	if err := validateSettings(merged); err != nil {
		return nil, err
	}

	err := retry.DoVoid(ctx, retry.Policy{
		MaxAttempts:    2,
		InitialBackoff: 100 * time.Millisecond,
		Clock:          s.clock,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			slog.Warn("Settings persist failed, retrying", "attempt", attempt, "error", err)
		},
	}, nil, func() error {
		return s.store.SaveSettings(ctx, merged)
	})
	if err != nil {
		return nil, &domain.PersistenceError{Op: "save settings", Err: err}
	}

	s.mu.Lock()
	s.current = &merged
	s.mu.Unlock()

	metrics.SettingsUpdatesTotal.Inc()
	slog.Info("Settings updated")

	if s.notify != nil {
		if err := s.notify(ctx); err != nil {
			slog.Error("Settings update notification failed", "error", err)
		}
	}

	return &merged, nil
}

// Reload replaces the snapshot with the persisted record. Used when another
// instance announces an update. Takes the writer lock so a stale load
// cannot land after a newer local update.
func (s *SettingsService) Reload(ctx context.Context) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	loaded, err := s.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload settings: %w", err)
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

// mergeSettings applies patch field-by-field over base. Nested objects merge
// shallowly at their sub-keys; the template list is replaced wholesale.
func mergeSettings(base domain.Settings, patch domain.SettingsPatch) domain.Settings {
	merged := base
	merged.MessageTemplates = append([]domain.MessageTemplate(nil), base.MessageTemplates...)

	if p := patch.AutoReply; p != nil {
		if p.Enabled != nil {
			merged.AutoReply.Enabled = *p.Enabled
		}
		if p.Message != nil {
			merged.AutoReply.Message = *p.Message
		}
	}
	if patch.AutoRead != nil {
		merged.AutoRead = *patch.AutoRead
	}
	if p := patch.WorkingHours; p != nil {
		if p.Enabled != nil {
			merged.WorkingHours.Enabled = *p.Enabled
		}
		if p.Start != nil {
			merged.WorkingHours.Start = *p.Start
		}
		if p.End != nil {
			merged.WorkingHours.End = *p.End
		}
		if p.Timezone != nil {
			merged.WorkingHours.Timezone = *p.Timezone
		}
	}
	if p := patch.ResponseDelay; p != nil {
		if p.Min != nil {
			merged.ResponseDelay.Min = *p.Min
		}
		if p.Max != nil {
			merged.ResponseDelay.Max = *p.Max
		}
	}
	if patch.MessageTemplates != nil {
		templates := append([]domain.MessageTemplate(nil), (*patch.MessageTemplates)...)
		for i := range templates {
			if templates[i].ID == "" {
				templates[i].ID = uuid.NewString()
			}
		}
		merged.MessageTemplates = templates
	}
	if patch.AbsenceMessage != nil {
		merged.AbsenceMessage = *patch.AbsenceMessage
	}

	return merged
}

func validateSettings(s domain.Settings) error {
	if s.ResponseDelay.Min < 0 || s.ResponseDelay.Max < 0 {
		return &domain.ValidationError{Field: "responseDelay", Message: "delay cannot be negative"}
	}
	if s.ResponseDelay.Min > s.ResponseDelay.Max {
		return &domain.ValidationError{Field: "responseDelay", Message: "minimum delay cannot be greater than maximum delay"}
	}
	if _, err := parseClockMinutes(s.WorkingHours.Start); err != nil {
		return &domain.ValidationError{Field: "workingHours.start", Message: err.Error()}
	}
	if _, err := parseClockMinutes(s.WorkingHours.End); err != nil {
		return &domain.ValidationError{Field: "workingHours.end", Message: err.Error()}
	}
	if _, err := time.LoadLocation(s.WorkingHours.Timezone); err != nil {
		return &domain.ValidationError{Field: "workingHours.timezone", Message: "unknown timezone"}
	}
	if len(s.AbsenceMessage) > maxMessageLength {
		return &domain.ValidationError{Field: "absenceMessage", Message: "message exceeds 1000 characters"}
	}
	if len(s.AutoReply.Message) > maxMessageLength {
		return &domain.ValidationError{Field: "autoReply.message", Message: "message exceeds 1000 characters"}
	}
	for _, tpl := range s.MessageTemplates {
		if strings.TrimSpace(tpl.Trigger) == "" {
			return &domain.ValidationError{Field: "messageTemplates", Message: "template trigger cannot be empty"}
		}
	}
	return nil
}

// parseClockMinutes parses an "HH:MM" wall-clock time into minutes-of-day.
func parseClockMinutes(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time must be HH:MM")
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour must be between 00 and 23")
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute must be between 00 and 59")
	}
	return hour*60 + minute, nil
}
