package db

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// sqlStateClassDataException covers values Postgres refuses to store, such
// as NUL bytes or invalid UTF-8 in text (22021).
const sqlStateClassDataException = "22"

// ValidText reports whether s can be stored in a Postgres text column.
func ValidText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

// CleanText makes s storable in a text column: NUL bytes are dropped, invalid
// UTF-8 is replaced and the result is cut to maxBytes on a rune boundary.
// A maxBytes of zero or less means no limit.
func CleanText(s string, maxBytes int) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// IsDataException reports a Postgres class 22 error. Retrying the same
// statement with the same values fails the same way.
func IsDataException(err error) bool {
	if err == nil {
		return false
	}
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return strings.HasPrefix(pgxErr.Code, sqlStateClassDataException)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code.Class()) == sqlStateClassDataException
	}
	return false
}
