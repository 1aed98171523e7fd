package catalog

import "github.com/mealbridge/notification/internal/domain"

func init() {
	register(Definition{
		Type:            domain.TypeNewMessage,
		TitleTemplate:   "New message from %s",
		DigestTemplate:  "You have %d new messages",
		Icon:            "chat",
		TargetScreen:    "chat",
		DefaultPriority: 8,
	})
	register(Definition{
		Type:            domain.TypePostLiked,
		TitleTemplate:   "%s liked your post",
		DigestTemplate:  "%d people liked your post",
		Icon:            "heart",
		TargetScreen:    "post",
		DefaultPriority: 3,
	})
	register(Definition{
		Type:            domain.TypeNewListing,
		TitleTemplate:   "New food listing nearby: %s",
		DigestTemplate:  "%d new food listings near you",
		Icon:            "basket",
		TargetScreen:    "listings",
		DefaultPriority: 5,
	})
	register(Definition{
		Type:            domain.TypeReviewReceived,
		TitleTemplate:   "%s left you a review",
		DigestTemplate:  "You received %d new reviews",
		Icon:            "star",
		TargetScreen:    "profile",
		DefaultPriority: 6,
	})
	register(Definition{
		Type:            domain.TypeForumReply,
		TitleTemplate:   "%s replied to your forum post",
		DigestTemplate:  "%d new replies to your forum post",
		Icon:            "forum",
		TargetScreen:    "forum",
		DefaultPriority: 4,
	})
	register(Definition{
		Type:            domain.TypeSystem,
		TitleTemplate:   "%s",
		DigestTemplate:  "%d system announcements",
		Icon:            "info",
		TargetScreen:    "home",
		DefaultPriority: 7,
	})
}
