package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest table identifier the workspace produces.
// 63 is the PostgreSQL limit and is safe for every engine csvbook supports.
const MaxIdentifierLength = 63

// Character validation constants
const (
	firstDigitChar = '0'
	lastDigitChar  = '9'
	firstLowerChar = 'a'
	lastLowerChar  = 'z'
	firstUpperChar = 'A'
	lastUpperChar  = 'Z'
	underscoreChar = '_'
)

// knownExtensions are stripped from the end of a name before sanitizing.
// Compression suffixes come first so that "x.csv.gz" loses both.
var knownExtensions = []string{ExtGZ, ExtBZ2, ExtXZ, ExtZSTD, ExtLZ4, ExtCSV, ExtTSV}

var (
	// validTableName is the identifier shape every sanitized name matches.
	validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	// underscoreRun collapses "a__b" into "a_b".
	underscoreRun = regexp.MustCompile(`_+`)
)

// SanitizeTableName maps an arbitrary string, typically a file name, to a valid
// table identifier.
//
// The algorithm strips a known file extension, drops parentheses, replaces every
// other character outside [A-Za-z0-9_] with an underscore, lowercases, collapses
// underscore runs, trims leading and trailing underscores, prefixes an underscore
// when the result starts with a digit and finally truncates to MaxIdentifierLength.
//
//	SanitizeTableName("Sales Report (2024).csv") // "sales_report_2024"
//	SanitizeTableName("2024-orders.csv.gz")      // "_2024_orders"
//
// The function is deterministic and idempotent. ErrInvalidName is returned when
// nothing usable is left.
func SanitizeTableName(name string) (string, error) {
	base := stripKnownExtension(strings.TrimSpace(name))

	var sb strings.Builder
	sb.Grow(len(base))
	for _, r := range base {
		switch {
		case r == '(' || r == ')':
			continue
		case isIdentifierChar(r):
			sb.WriteRune(r)
		default:
			sb.WriteRune(underscoreChar)
		}
	}

	result := strings.ToLower(sb.String())
	result = underscoreRun.ReplaceAllString(result, "_")
	result = strings.Trim(result, "_")
	if result == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if result[0] >= firstDigitChar && result[0] <= lastDigitChar {
		result = "_" + result
	}
	if len(result) > MaxIdentifierLength {
		result = strings.TrimRight(result[:MaxIdentifierLength], "_")
	}
	return result, nil
}

// ValidateTableName reports whether name can be used verbatim as a table name.
// User supplied names (for example the target of a configured import) go through
// this check instead of being silently rewritten.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: table name cannot be empty", ErrInvalidName)
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: table name too long (max %d characters): %s", ErrInvalidName, MaxIdentifierLength, name)
	}
	if !validTableName.MatchString(name) {
		return fmt.Errorf("%w: %s: only alphanumeric characters and underscores allowed, must start with letter or underscore", ErrInvalidName, name)
	}
	return nil
}

// TableFromFilePath derives the table name for a file path: the base name,
// without directories or known extensions, sanitized.
func TableFromFilePath(filePath string) (string, error) {
	return SanitizeTableName(filepath.Base(filePath))
}

// stripKnownExtension removes a compression suffix followed by a data file
// extension, case-insensitively.
func stripKnownExtension(name string) string {
	for _, ext := range knownExtensions {
		if len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			name = name[:len(name)-len(ext)]
		}
	}
	return name
}

func isIdentifierChar(r rune) bool {
	return (r >= firstLowerChar && r <= lastLowerChar) ||
		(r >= firstUpperChar && r <= lastUpperChar) ||
		(r >= firstDigitChar && r <= lastDigitChar) ||
		r == underscoreChar
}
