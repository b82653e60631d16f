// Package ingestion defines the request and response types of the message
// intake API through which the forum reports new, edited and removed posts.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
)

// MessageRequest is the JSON body accepted for a created or edited post.
// PostedAt is unix seconds.
type MessageRequest struct {
	ID       uint32 `json:"id_msg"`
	TopicID  uint32 `json:"id_topic"`
	BoardID  uint32 `json:"id_board"`
	MemberID uint32 `json:"id_member"`
	PostedAt int64  `json:"poster_time"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Likes    int    `json:"likes"`
}

// Message converts the request into the stored form.
func (r MessageRequest) Message() messages.Message {
	return messages.Message{
		ID:       r.ID,
		TopicID:  r.TopicID,
		BoardID:  r.BoardID,
		MemberID: r.MemberID,
		PostedAt: time.Unix(r.PostedAt, 0).UTC(),
		Subject:  r.Subject,
		Body:     r.Body,
		Likes:    r.Likes,
	}
}

// MessageResponse is returned once the change is stored and announced.
type MessageResponse struct {
	ID        uint32 `json:"id_msg"`
	Action    string `json:"action"`
	Published bool   `json:"published"`
}
