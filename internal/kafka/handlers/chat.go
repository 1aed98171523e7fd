package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/catalog"
	"github.com/mealbridge/notification/internal/domain"
)

func init() {
	Register("chat-events", "MESSAGE_SENT", handleMessageSent)
}

type chatEnv struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	Payload   struct {
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		SenderName     string `json:"senderName"`
		RecipientID    string `json:"recipientId"`
		Preview        string `json:"preview"`
	} `json:"payload"`
}

func handleMessageSent(data []byte) *admission.EnqueueInput {
	var env chatEnv
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Payload.RecipientID == "" || env.Payload.SenderName == "" {
		return nil
	}

	def := catalog.Resolve(domain.TypeNewMessage)
	return &admission.EnqueueInput{
		RecipientID: env.Payload.RecipientID,
		Type:        domain.TypeNewMessage,
		Title:       fmt.Sprintf(def.TitleTemplate, env.Payload.SenderName),
		Body:        env.Payload.Preview,
		Payload: map[string]any{
			"conversationId": env.Payload.ConversationID,
			"senderId":       env.Payload.SenderID,
			"icon":           def.Icon,
			"screen":         def.TargetScreen,
		},
	}
}
