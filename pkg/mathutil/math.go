// Package mathutil provides mathematical utility functions for the Go server.
package mathutil

// ClampInt clamps an integer value to a range [min, max].
func ClampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ClampLimit validates a pagination limit, applying default and max constraints.
// If limit <= 0, returns defaultVal. If limit > maxVal, returns maxVal.
func ClampLimit(limit, defaultVal, maxVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > maxVal {
		return maxVal
	}
	return limit
}
