package connectors

const (
	TopicConnStatus     = "conn.status"
	TopicConversation   = "chat.conversation"
	TopicMessage        = "chat.message"
	TopicMessageDeleted = "chat.message.deleted"
	TopicReadReceipt    = "chat.read"
	TopicTyping         = "chat.typing"
	TopicUploadProgress = "upload.progress"
	TopicChatError      = "chat.error"
	TopicUpdateSnapshot = "app.update"
)
