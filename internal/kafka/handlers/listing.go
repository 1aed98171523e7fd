package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/catalog"
	"github.com/mealbridge/notification/internal/domain"
)

func init() {
	Register("listing-events", "LISTING_PUBLISHED", handleListingPublished)
	Register("listing-events", "REVIEW_RECEIVED", handleReviewReceived)
}

type listingEnv struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	Payload   struct {
		ListingID    string `json:"listingId"`
		ListingTitle string `json:"listingTitle"`
		OwnerID      string `json:"ownerId"`
		SubscriberID string `json:"subscriberId"`
		ReviewerName string `json:"reviewerName"`
		Rating       int    `json:"rating"`
	} `json:"payload"`
}

func parseListingEnv(data []byte) (*listingEnv, bool) {
	var env listingEnv
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	return &env, true
}

// handleListingPublished notifies one subscriber of a new listing in their
// area. The listing service emits one event per subscriber.
func handleListingPublished(data []byte) *admission.EnqueueInput {
	env, ok := parseListingEnv(data)
	if !ok || env.Payload.SubscriberID == "" {
		return nil
	}

	def := catalog.Resolve(domain.TypeNewListing)
	return &admission.EnqueueInput{
		RecipientID: env.Payload.SubscriberID,
		Type:        domain.TypeNewListing,
		Title:       fmt.Sprintf(def.TitleTemplate, env.Payload.ListingTitle),
		Payload: map[string]any{
			"listingId": env.Payload.ListingID,
			"icon":      def.Icon,
			"screen":    def.TargetScreen,
		},
	}
}

func handleReviewReceived(data []byte) *admission.EnqueueInput {
	env, ok := parseListingEnv(data)
	if !ok || env.Payload.OwnerID == "" || env.Payload.ReviewerName == "" {
		return nil
	}

	def := catalog.Resolve(domain.TypeReviewReceived)
	return &admission.EnqueueInput{
		RecipientID: env.Payload.OwnerID,
		Type:        domain.TypeReviewReceived,
		Title:       fmt.Sprintf(def.TitleTemplate, env.Payload.ReviewerName),
		Payload: map[string]any{
			"listingId": env.Payload.ListingID,
			"rating":    env.Payload.Rating,
			"icon":      def.Icon,
			"screen":    def.TargetScreen,
		},
	}
}
