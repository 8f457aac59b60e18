package realtime

// Topic names are plain strings shared by the hub, the redis relay and the
// notification dispatcher. Conversation topics fan out to every subscribed
// participant; user and connection topics are personal queues.

func ConversationMessagesTopic(conversationID string) string {
	return "chat." + conversationID + ".messages"
}

func ConversationReadTopic(conversationID string) string {
	return "chat." + conversationID + ".read"
}

func ConversationPresenceTopic(conversationID string) string {
	return "chat." + conversationID + ".presence"
}

func UserNotificationsTopic(userID string) string {
	return "user." + userID + ".notifications"
}

func UserConversationsTopic(userID string) string {
	return "user." + userID + ".conversations"
}

func UserQueueTopic(userID string) string {
	return "user." + userID + ".queue"
}

func ConnectionErrorsTopic(connectionID string) string {
	return "conn." + connectionID + ".errors"
}
