package extract

import (
	"strconv"
	"strings"
)

// ServerNames maps a CRCON server number to its display name.
type ServerNames map[string]string

// Name returns the display name of a server number, or "Server-<n>" when it is not mapped.
func (n ServerNames) Name(number string) string {
	if name, ok := n[number]; ok {
		return name
	}
	return "Server-" + number
}

// NameOf is Name for integer server numbers.
func (n ServerNames) NameOf(number int64) string {
	return n.Name(strconv.FormatInt(number, 10))
}

// serverNumberFromLabel extracts the number from a log line server label such as "Server 2".
// An empty label is treated as server 1.
func serverNumberFromLabel(label string) string {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return "1"
	}
	return fields[len(fields)-1]
}
