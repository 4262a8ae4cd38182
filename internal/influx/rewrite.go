package influx

import (
	"regexp"
	"strings"
)

var (
	whereClause = regexp.MustCompile(`(?i)\bWHERE\b`)
	tailClause  = regexp.MustCompile(`(?i)\s+(GROUP\s+BY|ORDER\s+BY|LIMIT|SLIMIT|OFFSET|SOFFSET|FILL)\b`)
)

// RewriteForHost restricts query to one host. With a WHERE clause the
// existing predicate is parenthesized behind the host condition, so
// "WHERE a OR b" becomes "WHERE host = 'x' AND (a OR b)". Without one a new
// WHERE clause goes in front of GROUP BY / ORDER BY / LIMIT, or at the end.
func RewriteForHost(query, hostField, host string) string {
	cond := quoteIdent(hostField) + " = '" + escapeLiteral(host) + "'"
	trimmed := strings.TrimRight(query, " \t\n;")

	if loc := whereClause.FindStringIndex(trimmed); loc != nil {
		head, predicate, tail := trimmed[:loc[1]], trimmed[loc[1]:], ""
		if t := tailClause.FindStringIndex(predicate); t != nil {
			predicate, tail = predicate[:t[0]], predicate[t[0]:]
		}
		predicate = strings.TrimSpace(predicate)
		if predicate == "" {
			return head + " " + cond + tail
		}
		return head + " " + cond + " AND (" + predicate + ")" + tail
	}

	if loc := tailClause.FindStringIndex(trimmed); loc != nil {
		return trimmed[:loc[0]] + " WHERE " + cond + trimmed[loc[0]:]
	}
	return trimmed + " WHERE " + cond
}

func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// quoteIdent double-quotes identifiers that are not plain words
func quoteIdent(s string) string {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
		}
	}
	return s
}
