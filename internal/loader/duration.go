package loader

import (
	"strconv"
	"strings"
)

// parseDelay accepts a bare integer ("500") or a duration literal with a
// unit suffix (ms, s, m, h) and returns the delay in milliseconds.
func parseDelay(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newErr(MalformedDuration, "", "empty duration")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}

	units := []struct {
		suffix string
		factor int64
	}{
		{"ms", 1},
		{"s", 1000},
		{"m", 60_000},
		{"h", 3_600_000},
	}
	for _, u := range units {
		if strings.HasSuffix(raw, u.suffix) {
			numPart := strings.TrimSuffix(raw, u.suffix)
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				return 0, newErr(MalformedDuration, "", "cannot parse %q as duration", raw)
			}
			return n * u.factor, nil
		}
	}
	return 0, newErr(MalformedDuration, "", "cannot parse %q as duration", raw)
}
