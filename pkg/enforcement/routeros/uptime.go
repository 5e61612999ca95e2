package routeros

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var uptimeUnits = map[byte]time.Duration{
	'w': 7 * 24 * time.Hour,
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseUptime parses RouterOS durations such as "1w2d3h4m5s" or "45m10s".
// A bare number is seconds; "00:10:05" clock notation is also accepted.
func ParseUptime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}

	var total time.Duration
	num := 0
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			digits++
		default:
			unit, ok := uptimeUnits[c]
			if !ok || digits == 0 {
				return 0, fmt.Errorf("invalid uptime %q", s)
			}
			// "ms" suffix
			if c == 'm' && i+1 < len(s) && s[i+1] == 's' {
				unit = time.Millisecond
				i++
			}
			total += time.Duration(num) * unit
			num, digits = 0, 0
		}
	}
	if digits > 0 {
		total += time.Duration(num) * time.Second
	}
	return total, nil
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid uptime %q", s)
	}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid uptime %q", s)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}
