package domain

import "context"

// AutoReply configures the default automated response.
type AutoReply struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// WorkingHours gates auto-replies to a daily time window. Start and End are
// "HH:MM" wall-clock times evaluated in Timezone; the window is [Start, End).
type WorkingHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// ResponseDelay bounds the randomized reply delay in milliseconds.
type ResponseDelay struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// MessageTemplate is a trigger -> content auto-reply rule. Matching is
// case-insensitive on the exact trigger; list order breaks ties.
type MessageTemplate struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Trigger string `json:"trigger"`
	Content string `json:"content"`
}

// Settings is the global bot configuration shared by all sessions.
// Snapshots are immutable once published; updates swap the whole value.
type Settings struct {
	AutoReply        AutoReply         `json:"autoReply"`
	AutoRead         bool              `json:"autoRead"`
	WorkingHours     WorkingHours      `json:"workingHours"`
	ResponseDelay    ResponseDelay     `json:"responseDelay"`
	MessageTemplates []MessageTemplate `json:"messageTemplates"`
	AbsenceMessage   string            `json:"absenceMessage"`
}

// SettingsPatch is a partial update. Nil fields leave the current value
// untouched; nested objects merge shallowly at their sub-keys. Providing
// MessageTemplates replaces the whole list.
type SettingsPatch struct {
	AutoReply        *AutoReplyPatch     `json:"autoReply,omitempty"`
	AutoRead         *bool               `json:"autoRead,omitempty"`
	WorkingHours     *WorkingHoursPatch  `json:"workingHours,omitempty"`
	ResponseDelay    *ResponseDelayPatch `json:"responseDelay,omitempty"`
	MessageTemplates *[]MessageTemplate  `json:"messageTemplates,omitempty"`
	AbsenceMessage   *string             `json:"absenceMessage,omitempty"`
}

type AutoReplyPatch struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Message *string `json:"message,omitempty"`
}

type WorkingHoursPatch struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Start    *string `json:"start,omitempty"`
	End      *string `json:"end,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

type ResponseDelayPatch struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// SettingsStore persists the settings as a single keyed record.
type SettingsStore interface {
	// LoadSettings returns the stored settings, or ErrSettingsNotFound.
	LoadSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// DefaultSettings returns the factory configuration used when the store
// holds no settings record yet.
func DefaultSettings() Settings {
	return Settings{
		AutoReply: AutoReply{
			Enabled: false,
			Message: "Thanks for your message! I'll get back to you soon.",
		},
		AutoRead: false,
		WorkingHours: WorkingHours{
			Enabled:  false,
			Start:    "09:00",
			End:      "17:00",
			Timezone: "UTC",
		},
		ResponseDelay: ResponseDelay{Min: 1000, Max: 5000},
		MessageTemplates: []MessageTemplate{
			{
				ID:      "welcome",
				Name:    "Welcome Message",
				Trigger: "!welcome",
				Content: "Welcome! How can I help you today?",
			},
			{
				ID:      "help",
				Name:    "Help Message",
				Trigger: "!help",
				Content: "Available commands:\n!welcome - Show welcome message\n!help - Show this help message",
			},
		},
		AbsenceMessage: "I'm currently outside working hours. I'll respond when I'm back.",
	}
}
