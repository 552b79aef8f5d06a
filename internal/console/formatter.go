package console

import "fmt"

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		return fmt.Sprintf("%.1fms", latencySeconds*1000)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatTokens formats live history usage as "used / budget tokens (P%)".
func FormatTokens(used, budget int) string {
	if budget <= 0 {
		return fmt.Sprintf("%d tokens", used)
	}
	return fmt.Sprintf("%d / %d tokens (%.0f%%)", used, budget, float64(used)/float64(budget)*100)
}
