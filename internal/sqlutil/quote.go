// Package sqlutil holds SQL helpers shared by the SQL sink and the SQL run
// ledger. Everything here is valid for both MySQL and SQLite.
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength is MySQL's limit for table names; SQLite has none.
const MaxIdentifierLength = 64

// QuoteIdentifier quotes a table or column name with backticks, doubling
// embedded backticks. SQLite accepts backticks for MySQL compatibility.
// Example: "extract_record" -> "`extract_record`"
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var identifierPattern = regexp.MustCompile("^[A-Za-z_][A-Za-z0-9_]*$")

// IsValidIdentifier reports whether name can be used unquoted on both
// engines: a letter or underscore, then letters, digits and underscores,
// at most MaxIdentifierLength bytes.
func IsValidIdentifier(name string) bool {
	return len(name) <= MaxIdentifierLength && identifierPattern.MatchString(name)
}

// QuoteIdentifierSafe validates name before quoting it. Table names come
// from configuration, so they are never trusted.
func QuoteIdentifierSafe(name string) (string, error) {
	if !IsValidIdentifier(name) {
		return "", &InvalidIdentifierError{Name: name}
	}
	return QuoteIdentifier(name), nil
}

// InvalidIdentifierError is returned for names IsValidIdentifier rejects.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	switch {
	case e.Name == "":
		return "invalid identifier: name is empty"
	case len(e.Name) > MaxIdentifierLength:
		return fmt.Sprintf("invalid identifier: %.16s... is longer than %d characters", e.Name, MaxIdentifierLength)
	default:
		return "invalid identifier: " + e.Name + " (must start with a letter or underscore and contain only letters, digits and underscores)"
	}
}

// BoolInt maps a flag onto the 0/1 integer stored in TINYINT columns, which
// both engines read back without a driver-specific bool conversion.
func BoolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
