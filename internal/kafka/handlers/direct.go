package handlers

import (
	"encoding/json"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/domain"
)

func init() {
	RegisterDirect("notification-commands", handleDirectCommand)
}

// handleDirectCommand accepts a fully formed notification request from
// another service, typically used for system announcements.
func handleDirectCommand(data []byte) *admission.EnqueueInput {
	var cmd struct {
		RecipientID string         `json:"recipientId"`
		Type        string         `json:"type"`
		Title       string         `json:"title"`
		Body        string         `json:"body"`
		Payload     map[string]any `json:"payload"`
		Priority    *int           `json:"priority"`
	}

	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil
	}
	if cmd.RecipientID == "" || cmd.Title == "" {
		return nil
	}

	notifType := domain.NotificationType(cmd.Type)
	if !notifType.IsKnown() {
		notifType = domain.TypeSystem
	}

	return &admission.EnqueueInput{
		RecipientID: cmd.RecipientID,
		Type:        notifType,
		Title:       cmd.Title,
		Body:        cmd.Body,
		Payload:     cmd.Payload,
		Priority:    cmd.Priority,
	}
}
