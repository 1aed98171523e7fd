package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/catalog"
	"github.com/mealbridge/notification/internal/domain"
)

func init() {
	Register("community-events", "POST_LIKED", handlePostLiked)
	Register("community-events", "FORUM_REPLY", handleForumReply)
}

type communityEnv struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	Payload   struct {
		PostID     string `json:"postId"`
		AuthorID   string `json:"authorId"`
		ActorID    string `json:"actorId"`
		ActorName  string `json:"actorName"`
		ReplyID    string `json:"replyId"`
		ForumTitle string `json:"forumTitle"`
	} `json:"payload"`
}

func parseCommunityEnv(data []byte) (*communityEnv, bool) {
	var env communityEnv
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.Payload.AuthorID == "" || env.Payload.ActorName == "" {
		return nil, false
	}
	// Never notify people about their own actions.
	if env.Payload.AuthorID == env.Payload.ActorID {
		return nil, false
	}
	return &env, true
}

func handlePostLiked(data []byte) *admission.EnqueueInput {
	env, ok := parseCommunityEnv(data)
	if !ok {
		return nil
	}

	def := catalog.Resolve(domain.TypePostLiked)
	return &admission.EnqueueInput{
		RecipientID: env.Payload.AuthorID,
		Type:        domain.TypePostLiked,
		Title:       fmt.Sprintf(def.TitleTemplate, env.Payload.ActorName),
		Payload: map[string]any{
			"postId": env.Payload.PostID,
			"icon":   def.Icon,
			"screen": def.TargetScreen,
		},
	}
}

func handleForumReply(data []byte) *admission.EnqueueInput {
	env, ok := parseCommunityEnv(data)
	if !ok {
		return nil
	}

	def := catalog.Resolve(domain.TypeForumReply)
	return &admission.EnqueueInput{
		RecipientID: env.Payload.AuthorID,
		Type:        domain.TypeForumReply,
		Title:       fmt.Sprintf(def.TitleTemplate, env.Payload.ActorName),
		Body:        env.Payload.ForumTitle,
		Payload: map[string]any{
			"postId":  env.Payload.PostID,
			"replyId": env.Payload.ReplyID,
			"icon":    def.Icon,
			"screen":  def.TargetScreen,
		},
	}
}
