package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultOptionTimeout applies when a method's options name "timeout" without a value.
const DefaultOptionTimeout = 5 * time.Second

// parseOptions reads a method options string such as "timeout:5000". Entries are
// separated by commas or spaces; values are milliseconds. Unknown keys are ignored.
func parseOptions(opts string) (time.Duration, error) {
	var timeout time.Duration
	for _, entry := range strings.FieldsFunc(opts, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		key, value, hasValue := strings.Cut(entry, ":")
		if !hasValue {
			key, value, hasValue = strings.Cut(entry, "=")
		}
		if strings.TrimSpace(key) != "timeout" {
			continue
		}
		if !hasValue {
			timeout = DefaultOptionTimeout
			continue
		}
		ms, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || ms <= 0 {
			return 0, fmt.Errorf("option timeout wants a positive millisecond count, got %q", value)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	return timeout, nil
}
