package model

import "time"

type Kind string

const (
	KindWhatsAppText  Kind = "whatsapp_text"
	KindWhatsAppVideo Kind = "whatsapp_video"
	KindEmail         Kind = "email"
)

func (k Kind) Valid() bool {
	switch k {
	case KindWhatsAppText, KindWhatsAppVideo, KindEmail:
		return true
	}
	return false
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusDispatching Status = "dispatching"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Schedule is one future-dated delivery. Kind, Recipient, the payload
// fields and ScheduledAt are fixed at creation; only Status,
// AttemptCount, LastError, NextAttemptAt and UpdatedAt change afterwards.
type Schedule struct {
	ID        string
	Kind      Kind
	Recipient string

	// Payload, by kind: Text for whatsapp_text; MediaURL and Caption for
	// whatsapp_video; Subject and Text for email.
	Text     string
	MediaURL string
	Caption  string
	Subject  string

	ScheduledAt   time.Time
	Status        Status
	AttemptCount  int
	LastError     *string
	NextAttemptAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
