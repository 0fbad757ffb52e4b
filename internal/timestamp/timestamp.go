// Package timestamp produces and validates the fixed-width YYYYMMDDHHMMSS
// strings the Daraja API expects on STK push requests.
package timestamp

import (
	"strconv"
	"time"
)

const layout = "20060102150405"

// Generate returns the current UTC time in YYYYMMDDHHMMSS format.
func Generate() string {
	return GenerateAt(time.Now())
}

// GenerateAt formats the given instant in YYYYMMDDHHMMSS format, UTC.
func GenerateAt(t time.Time) string {
	return t.UTC().Format(layout)
}

// IsValid reports whether s is a well-formed 14-digit timestamp with
// in-range date and time components.
func IsValid(s string) bool {
	if len(s) != 14 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	hour, _ := strconv.Atoi(s[8:10])
	minute, _ := strconv.Atoi(s[10:12])
	second, _ := strconv.Atoi(s[12:14])

	if month < 1 || month > 12 {
		return false
	}
	if day < 1 || day > 31 {
		return false
	}
	if hour > 23 {
		return false
	}
	if minute > 59 {
		return false
	}
	if second > 59 {
		return false
	}

	return true
}
