package pipeline

import (
	"fmt"
	"strings"

	"github.com/queryhive/queryhive/pkg/models"
)

func dialectName(kind models.ConnectionKind) string {
	switch kind {
	case models.KindSQLite:
		return "SQLite"
	case models.KindPostgres:
		return "PostgreSQL"
	case models.KindClickHouse:
		return "ClickHouse"
	}
	return string(kind)
}

func querySystemPrompt(kind models.ConnectionKind, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s expert. Given a question and a database schema, write a single read-only SQL query that answers the question.\n", dialectName(kind))
	b.WriteString("Rules:\n")
	b.WriteString("- Only SELECT or WITH statements. Never modify data.\n")
	fmt.Fprintf(&b, "- Limit results to at most %d rows unless the question asks for an aggregate.\n", topK)
	b.WriteString("- Use only tables and columns present in the schema.\n")
	if kind == models.KindClickHouse {
		b.WriteString("- Use backticks for identifiers that need quoting.\n")
	} else {
		b.WriteString("- Use double quotes for identifiers that need quoting.\n")
	}
	b.WriteString("Return the query in a ```sql fenced block, followed by a one-sentence explanation.\n")
	return b.String()
}

func queryUserPrompt(state *State) string {
	var b strings.Builder
	b.WriteString("SCHEMA:\n")
	b.WriteString(state.SchemaContext)
	if state.HistoryBlock != "" {
		b.WriteString("\nCONVERSATION CONTEXT:\n")
		b.WriteString(state.HistoryBlock)
	}
	b.WriteString("\nQUESTION: ")
	b.WriteString(state.Question)
	return b.String()
}

const contextSystemPrompt = "You analyse database schemas. Summarise which tables and columns are relevant to the user's question, and note joins or filters likely needed. Be brief."

const refineSystemPrompt = "You write clear, direct answers to data questions. Rewrite the draft answer using the query result. State the numbers plainly. Do not include SQL."

func refineUserPrompt(state *State) string {
	var b strings.Builder
	b.WriteString("QUESTION: ")
	b.WriteString(state.Question)
	b.WriteString("\nQUERY RESULT:\n")
	b.WriteString(state.ResultText)
	if state.RawAnswer != "" {
		b.WriteString("\nDRAFT ANSWER:\n")
		b.WriteString(state.RawAnswer)
	}
	return b.String()
}
