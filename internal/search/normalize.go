package search

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"torrentstream/qbtcontrol/internal/domain"
)

// NormalizePattern composes the pattern to NFC and collapses whitespace so
// visually identical queries reach the remote engine byte-identical.
func NormalizePattern(raw string) string {
	return strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
}

// PrepareQuery validates the query and fills defaults.
func PrepareQuery(query domain.SearchQuery) (domain.SearchQuery, error) {
	query.Pattern = NormalizePattern(query.Pattern)
	if query.Pattern == "" {
		return query, ErrInvalidQuery
	}
	query.Category = strings.TrimSpace(query.Category)
	query.Plugins = strings.TrimSpace(query.Plugins)
	return query.WithDefaults(), nil
}
