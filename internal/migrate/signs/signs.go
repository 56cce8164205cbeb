// Package signs reads migration labels from sign text and stamps signs whose
// label has been fully migrated.
package signs

import (
	"regexp"
	"strings"

	"github.com/gmcnew/migrate-chests/internal/world/store"
)

// MigratedText is written onto a sign once its label has nothing left to move.
const MigratedText = "(migrated!)"

// labelPattern matches at the start of the line only; anything after the
// "namespace:name" token is kept as part of the label.
var labelPattern = regexp.MustCompile(`^\S+:\S+`)

func cleanLine(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// Label returns the lower-cased migration label carried by the sign, scanning
// its lines top to bottom. ok is false for ordinary signage.
func Label(sign *store.TileEntity) (label string, ok bool) {
	for _, line := range sign.Text {
		text := cleanLine(line)
		if text != "" && labelPattern.MatchString(text) {
			return strings.ToLower(text), true
		}
	}
	return "", false
}

// MigratedLine picks the line MarkMigrated overwrites: the first blank line
// that follows a non-blank one, else the last blank line, else the last line.
func MigratedLine(sign *store.TileEntity) int {
	change := store.SignLines - 1
	textFound := false
	for i, line := range sign.Text {
		if cleanLine(line) != "" {
			textFound = true
			continue
		}
		change = i
		if textFound {
			break
		}
	}
	return change
}

// MarkMigrated overwrites one line of the sign with MigratedText and returns
// the line index it wrote.
func MarkMigrated(sign *store.TileEntity) int {
	i := MigratedLine(sign)
	sign.Text[i] = MigratedText
	return i
}
