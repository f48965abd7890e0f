package transfer

// PostCreation is the compose request body. ScheduledAt uses RFC 3339; it is
// required when PostNow is false and the post is not a draft.
type PostCreation struct {
	Content     string `json:"content"`
	ScheduledAt string `json:"scheduled_at"`
	PostNow     bool   `json:"post_now"`
	Draft       bool   `json:"draft"`
	CommunityID string `json:"community_id"`
	ReplyToID   string `json:"reply_to_id"`
}

// PublishRequest is the interactive publish body. PostID is optional; when
// set the existing post row is updated instead of a new one being inserted.
type PublishRequest struct {
	Content string `json:"content"`
	PostID  int64  `json:"post_id"`
}

type WaitlistRequest struct {
	Email string `json:"email"`
}
