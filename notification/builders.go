package notification

import "github.com/quickies-app/realtime-backend/model"

// Typed constructors for the closed variant set. Routing and rendering
// switch on Type/ModerationSubtype, never on message text.

func Like(fromUserId, toUserId, quickieId string) model.Notification {
	return model.Notification{
		Type:       model.NotificationLike,
		FromUserId: fromUserId,
		UserId:     toUserId,
		QuickieId:  quickieId,
	}
}

func Comment(fromUserId, toUserId, quickieId, text string) model.Notification {
	return model.Notification{
		Type:       model.NotificationComment,
		FromUserId: fromUserId,
		UserId:     toUserId,
		QuickieId:  quickieId,
		Message:    text,
	}
}

func Follow(fromUserId, toUserId string) model.Notification {
	return model.Notification{
		Type:       model.NotificationFollow,
		FromUserId: fromUserId,
		UserId:     toUserId,
	}
}

func FollowRequest(fromUserId, toUserId string) model.Notification {
	return model.Notification{
		Type:       model.NotificationFollowRequest,
		FromUserId: fromUserId,
		UserId:     toUserId,
	}
}

// Moderation notifications carry the sentinel sender, never a real user id.
func Moderation(subtype model.ModerationSubtype, toUserId, quickieId, message string) model.Notification {
	return model.Notification{
		Type:              model.NotificationModeration,
		ModerationSubtype: subtype,
		FromUserId:        model.ModerationSender,
		UserId:            toUserId,
		QuickieId:         quickieId,
		Message:           message,
	}
}
