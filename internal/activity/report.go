package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/danhigham/tgpulse/internal/domain"
)

// Markdown lays a snapshot out as a markdown document for terminal
// rendering.
func Markdown(snap domain.Snapshot) string {
	var b strings.Builder

	name := strings.TrimSpace(snap.User.FirstName + " " + snap.User.LastName)
	if name == "" {
		name = snap.User.Username
	}
	fmt.Fprintf(&b, "# %s\n\n", orUnknown(name))
	if snap.User.Username != "" {
		fmt.Fprintf(&b, "@%s\n\n", snap.User.Username)
	}

	fmt.Fprintf(&b, "| chats | unread | messages shown |\n|---|---|---|\n| %d | %d | %d |\n\n",
		snap.Summary.TotalChats, snap.Summary.UnreadMessages, snap.Summary.TotalMessages)

	for _, a := range snap.Activity {
		fmt.Fprintf(&b, "## %s\n\n", orUnknown(a.ChatName))
		fmt.Fprintf(&b, "*%s*", a.ChatType)
		if a.UnreadCount > 0 {
			fmt.Fprintf(&b, " · %d unread", a.UnreadCount)
		}
		b.WriteString("\n\n")

		if len(a.Messages) == 0 {
			b.WriteString("_No recent messages_\n\n")
			continue
		}
		for _, m := range a.Messages {
			who := "them"
			if m.Out {
				who = "you"
			}
			ts := time.Unix(m.Date, 0).UTC().Format("Jan 2 15:04")
			fmt.Fprintf(&b, "- **%s** %s: %s\n", ts, who, oneLine(m.Text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
