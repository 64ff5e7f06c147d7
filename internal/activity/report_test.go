package activity_test

import (
	"strings"
	"testing"

	"github.com/danhigham/tgpulse/internal/activity"
	"github.com/danhigham/tgpulse/internal/domain"
)

func TestMarkdown(t *testing.T) {
	snap := domain.Snapshot{
		User: domain.User{FirstName: "Ada", Username: "ada"},
		Activity: []domain.ChatActivity{
			{
				ChatName:    "Book club",
				ChatType:    domain.ChatTypeGroup,
				UnreadCount: 2,
				Messages: []domain.Message{
					{Text: "see you\nthursday", Date: 0, Out: true},
				},
			},
			{ChatName: "", ChatType: domain.ChatTypeUnknown},
		},
		Summary: domain.Summary{TotalChats: 2, UnreadMessages: 2, TotalMessages: 1},
	}

	out := activity.Markdown(snap)
	for _, want := range []string{
		"# Ada\n",
		"@ada",
		"| 2 | 2 | 1 |",
		"## Book club",
		"2 unread",
		"- **Jan 1 00:00** you: see you thursday",
		"## Unknown",
		"_No recent messages_",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Markdown() missing %q in:\n%s", want, out)
		}
	}
}
