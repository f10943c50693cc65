// Package util contains misc internal utilities.
package util

// Limiter is a lower and upper bound on a value
type Limiter struct {
	Min float64 `json:"min" yaml:"Min" koanf:"Min"`
	Max float64 `json:"max" yaml:"Max" koanf:"Max"`
}

// Check returns true if Min <= x <= Max
func (l Limiter) Check(x float64) bool {
	return x >= l.Min && x <= l.Max
}
