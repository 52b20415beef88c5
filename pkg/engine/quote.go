package engine

import (
	"strings"

	"github.com/queryhive/queryhive/pkg/models"
)

// QuoteIdent quotes a table or column identifier for the handle's dialect.
// ClickHouse uses backticks, postgres and sqlite use double quotes.
func (h *Handle) QuoteIdent(ident string) string {
	return QuoteIdent(h.kind, ident)
}

// QuoteIdent quotes an identifier for the given dialect, escaping embedded
// quote characters.
func QuoteIdent(kind models.ConnectionKind, ident string) string {
	if kind == models.KindClickHouse {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
