package pg

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// nullString converts a Go zero-value string to SQL NULL, the convention
// used throughout this package for optional TEXT columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime converts a Go zero-value time.Time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// nullBytes converts an empty byte slice to SQL NULL, used for
// optional JSONB columns such as executions.error.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// inClause builds a "$n,$n+1,..." placeholder list for a dynamic IN(...)
// clause starting at argument position start, returning the clause text and
// the values to append to the query's argument list.
func inClause(values []string, start int) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}
