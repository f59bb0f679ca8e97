package utils

import (
	"fmt"
	"strings"
)

// ParseHeaderArgs turns repeated "--header 'Key: Value'" flags into a header map,
// unchanged from the teacher's utils.ParseHeaderArgs.
func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// FormatBytes renders a byte count in human units, unchanged from the
// teacher's utils.FormatBytes.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a byte-count/elapsed-seconds pair as a rate, unchanged
// from the teacher's utils.FormatSpeed.
func FormatSpeed(bytes int64, elapsedSeconds float64) string {
	if elapsedSeconds <= 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsedSeconds
	return FormatBytes(uint64(bps)) + "/s"
}
