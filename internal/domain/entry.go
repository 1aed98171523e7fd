package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType is the closed set of notification kinds the pipeline accepts.
type NotificationType string

const (
	TypeNewMessage     NotificationType = "new_message"
	TypePostLiked      NotificationType = "post_liked"
	TypeNewListing     NotificationType = "new_listing"
	TypeReviewReceived NotificationType = "review_received"
	TypeForumReply     NotificationType = "forum_reply"
	TypeSystem         NotificationType = "system"
)

// KnownTypes lists every notification type the pipeline knows about.
var KnownTypes = []NotificationType{
	TypeNewMessage, TypePostLiked, TypeNewListing,
	TypeReviewReceived, TypeForumReply, TypeSystem,
}

// IsKnown reports whether t is part of the closed type set.
func (t NotificationType) IsKnown() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusConsolidated      Status = "consolidated"
	StatusSent              Status = "sent"
	StatusDropped           Status = "dropped"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDropped, StatusPermanentlyFailed, StatusConsolidated:
		return true
	}
	return false
}

// ErrorRecord is one delivery failure in an entry's error history.
type ErrorRecord struct {
	Error     string    `json:"error"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueEntry is the unit of work flowing through the delivery pipeline.
type QueueEntry struct {
	ID               uuid.UUID        `json:"id"`
	RecipientID      string           `json:"recipient_id"`
	Type             NotificationType `json:"type"`
	ConsolidationKey string           `json:"consolidation_key"`

	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Payload map[string]any `json:"payload,omitempty"`

	Priority     int       `json:"priority"`
	Status       Status    `json:"status"`
	ScheduledFor time.Time `json:"scheduled_for"`

	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	LastError     string        `json:"last_error,omitempty"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
	ErrorHistory  []ErrorRecord `json:"error_history,omitempty"`

	ConsolidatedCount int         `json:"consolidated_count,omitempty"`
	ConsolidatedIDs   []uuid.UUID `json:"consolidated_ids,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// PushMessage is the transport-boundary DTO handed to the push gateway.
// A digest message covers every entry in EntryIDs; a plain message covers one.
type PushMessage struct {
	EntryIDs    []uuid.UUID    `json:"entry_ids"`
	RecipientID string         `json:"recipient_id"`
	DeviceToken string         `json:"device_token"`
	Platform    Platform       `json:"platform"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Payload     map[string]any `json:"payload,omitempty"`
	Digest      bool           `json:"digest"`
	Count       int            `json:"count"`
}
