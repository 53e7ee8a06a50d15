package memory

import (
	"fmt"
	"strings"

	"kaichat/internal/models"
)

// BuildContext renders fetched memories into the prompt-context block. It
// returns the empty string when there is nothing to say, which the caller
// treats as "use the default system prompt".
//
// Entries are rendered in the order received from the fetcher (most recent /
// most similar first); this function does not re-sort.
func BuildContext(shortTerm []models.ShortTermMemory, longTerm []models.ScoredMemory) string {
	if len(shortTerm) == 0 && len(longTerm) == 0 {
		return ""
	}

	var b strings.Builder
	if len(longTerm) > 0 {
		b.WriteString("Things you know about this user:\n")
		for _, m := range longTerm {
			display := strings.TrimSpace(m.Display)
			if display == "" {
				display = fmt.Sprintf("%s: %s", m.Key, m.Value)
			}
			b.WriteString("- ")
			b.WriteString(display)
			b.WriteString("\n")
		}
	}
	if len(shortTerm) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent conversation context:\n")
		for _, m := range shortTerm {
			b.WriteString(fmt.Sprintf("[%s] %s: %s\n",
				m.CreatedAt.Format("2006-01-02 15:04"), m.Sender, m.Message))
		}
	}
	return b.String()
}
