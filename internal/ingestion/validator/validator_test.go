package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/ingestion"
)

func validRequest() ingestion.MessageRequest {
	return ingestion.MessageRequest{
		ID: 10, TopicID: 2, BoardID: 1, MemberID: 5, PostedAt: 1700000000,
		Subject: "Welcome", Body: "Hello forum",
	}
}

func TestValidateMessageAccepts(t *testing.T) {
	req := validRequest()
	assert.NoError(t, ValidateMessage(&req))
}

func TestValidateMessageFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ingestion.MessageRequest)
		field  string
	}{
		{"missing id", func(r *ingestion.MessageRequest) { r.ID = 0 }, "id_msg"},
		{"missing topic", func(r *ingestion.MessageRequest) { r.TopicID = 0 }, "id_topic"},
		{"missing board", func(r *ingestion.MessageRequest) { r.BoardID = 0 }, "id_board"},
		{"negative time", func(r *ingestion.MessageRequest) { r.PostedAt = -1 }, "poster_time"},
		{"negative likes", func(r *ingestion.MessageRequest) { r.Likes = -2 }, "likes"},
		{"blank subject", func(r *ingestion.MessageRequest) { r.Subject = "  " }, "subject"},
		{"long subject", func(r *ingestion.MessageRequest) { r.Subject = strings.Repeat("é", 256) }, "subject"},
		{"blank body", func(r *ingestion.MessageRequest) { r.Body = "\n" }, "body"},
		{"long body", func(r *ingestion.MessageRequest) { r.Body = strings.Repeat("a", 65536) }, "body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			err := ValidateMessage(&req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tc.field)
			assert.Len(t, verr.Fields, 1)
		})
	}
}

func TestValidationErrorIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"subject": "required", "body": "required"}}
	assert.Equal(t, "body: required; subject: required", err.Error())
}
