package markup

import "strings"

// Status and category live in the document as labeled lines ("Status:
// InProgress"), matched by label text rather than position.

const (
	LabelStatus   = "Status"
	LabelCategory = "Category"
)

// ReadLabeled returns the value of the first "Label: value" line.
func ReadLabeled(content, label string) (string, bool) {
	prefix := label + ":"
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), true
		}
	}
	return "", false
}

// WriteLabeled rewrites the first "Label: value" line, or appends one at
// the end of the document if no such line exists.
func WriteLabeled(content, label, value string) string {
	prefix := label + ":"
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			lines[i] = prefix + " " + value
			return strings.Join(lines, "\n")
		}
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines[len(lines)-1] = prefix + " " + value
		return strings.Join(lines, "\n") + "\n"
	}
	return content + "\n" + prefix + " " + value
}
