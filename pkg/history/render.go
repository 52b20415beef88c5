package history

import (
	"fmt"
	"strings"

	"github.com/queryhive/queryhive/pkg/models"
)

// renderTimeLayout is the timestamp prefix on rendered history lines.
const renderTimeLayout = "2006-01-02 15:04"

// Render formats retrieved history as a prompt section. Recent session
// messages come first in chronological order, then cross-session hits by
// relevance. Each item carries its timestamp, role, content, and the SQL the
// assistant ran, when any. Empty inputs render to an empty string so callers
// can skip the section entirely.
func Render(recent []models.Message, similar []models.ScoredMessage) string {
	if len(recent) == 0 && len(similar) == 0 {
		return ""
	}

	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("RECENT MESSAGES:\n")
		for _, m := range recent {
			renderMessage(&b, m)
		}
	}
	if len(similar) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("SIMILAR CONVERSATIONS:\n")
		for _, m := range similar {
			renderMessage(&b, m.Message)
		}
	}
	return b.String()
}

func renderMessage(b *strings.Builder, m models.Message) {
	fmt.Fprintf(b, "[%s] %s: %s\n",
		m.CreatedAt.Format(renderTimeLayout), strings.ToUpper(string(m.Role)), m.Content)
	if m.SQLQuery != "" {
		fmt.Fprintf(b, "  SQL: %s\n", m.SQLQuery)
	}
}
