// Package notify renders reminder notifications.
package notify

import (
	"context"
	"strings"
	"time"
)

// Priority of a notification.
type Priority string

// Category of a notification.
type Category string

const (
	PriorityMax   Priority = "max"
	CategoryAlarm Category = "alarm"
)

// Importance of a notification channel.
type Importance string

const ImportanceHigh Importance = "high"

// Title used for medicine reminder notifications.
const ReminderTitle = "💊 Medicine Reminder"

// Channel groups notifications that share presentation settings.
type Channel struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Importance  Importance `json:"importance"`
	Lights      bool       `json:"lights"`
	Vibration   bool       `json:"vibration"`
	BypassDND   bool       `json:"bypassDnd"`
}

// ReminderChannel is the channel all medicine reminders are posted to.
var ReminderChannel = Channel{
	ID:          "medicine_reminders",
	Name:        "Medicine Reminders",
	Description: "Time-sensitive medicine reminders",
	Importance:  ImportanceHigh,
	Lights:      true,
	Vibration:   true,
	BypassDND:   true,
}

// Notification is a user-visible alert. Rendering a notification with the
// ID of one already shown replaces it.
type Notification struct {
	ID         int64     `json:"id"`
	ChannelID  string    `json:"channelId"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Priority   Priority  `json:"priority"`
	Category   Category  `json:"category"`
	FullScreen bool      `json:"fullScreen"`
	Vibrate    []int64   `json:"vibrate,omitempty"` // milliseconds, alternating off/on
	PostedAt   time.Time `json:"postedAt"`
}

// Renderer displays notifications.
type Renderer interface {
	// EnsureChannel registers the channel. Registering an existing channel is a no-op.
	EnsureChannel(ctx context.Context, ch Channel) error
	Render(ctx context.Context, n Notification) error
}

// ReminderBody returns "{name} - {dosage}", followed by the instructions on a new line when present.
func ReminderBody(medicineName, dosage, instructions string) string {
	var b strings.Builder
	b.WriteString(medicineName)
	b.WriteString(" - ")
	b.WriteString(dosage)
	if instructions != "" {
		b.WriteString("\n")
		b.WriteString(instructions)
	}
	return b.String()
}

// ForReminder builds the alarm notification for a fired reminder.
func ForReminder(id int64, medicineName, dosage, instructions string) Notification {
	return Notification{
		ID:         id,
		ChannelID:  ReminderChannel.ID,
		Title:      ReminderTitle,
		Body:       ReminderBody(medicineName, dosage, instructions),
		Priority:   PriorityMax,
		Category:   CategoryAlarm,
		FullScreen: true,
		Vibrate:    []int64{0, 1000, 500, 1000},
	}
}
