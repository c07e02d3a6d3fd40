package progress

import "fmt"

// FormatSize renders a byte count human-readably. compact trims the
// fractional digit once the value reaches double digits, matching the
// tighter rendering used for inline byte counters alongside item progress.
func FormatSize(n int64, compact bool) string {
	const unit = 1024.0
	size := float64(n)
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	i := 0
	for size >= unit && i < len(units)-1 {
		size /= unit
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", n, units[0])
	}
	if compact && size >= 10 {
		return fmt.Sprintf("%.0f%s", size, units[i])
	}
	if compact {
		return fmt.Sprintf("%.1f%s", size, units[i])
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
