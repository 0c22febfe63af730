package commands

import (
	"strings"
)

// firstLine drops the suggestion lines user-facing errors carry.
func firstLine(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}
