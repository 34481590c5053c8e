package marketplace

import (
	"strings"
	"time"
)

var dueDateLayouts = []string{time.DateOnly, time.RFC3339, time.RFC3339Nano}

// ParseDueDate 接受 YYYY-MM-DD 或 RFC 3339 格式。
func ParseDueDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, validationf("dueDate is required")
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationf("dueDate %q must be YYYY-MM-DD or RFC 3339", raw)
}
