package util

import "strconv"

func ParseInt(str string, fallback int) int {
	if v, err := strconv.Atoi(str); err == nil {
		return v
	}
	return fallback
}

func ParseInt64(str string, fallback int64) int64 {
	if v, err := strconv.ParseInt(str, 10, 64); err == nil {
		return v
	}
	return fallback
}

func ParseBool(str string, fallback bool) bool {
	if v, err := strconv.ParseBool(str); err == nil {
		return v
	}
	return fallback
}

// ParseSize accepts a plain byte count or a count with a KB/MB/GB suffix.
func ParseSize(str string, fallback int64) int64 {
	units := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	}
	for _, u := range units {
		if len(str) > len(u.suffix) && str[len(str)-len(u.suffix):] == u.suffix {
			if v, err := strconv.ParseInt(str[:len(str)-len(u.suffix)], 10, 64); err == nil && v >= 0 {
				return v * u.mult
			}
			return fallback
		}
	}
	return ParseInt64(str, fallback)
}
