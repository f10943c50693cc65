package util_test

import (
	"fmt"
	"testing"

	"github.com/nasa-jpl/ystage/util"
)

func ExampleLimiter_Check() {
	l := util.Limiter{Min: -7e6, Max: 7.5e6}
	fmt.Println(l.Check(8e6), l.Check(0))
	// Output: false true
}

func TestLimiterCheckIsInclusive(t *testing.T) {
	l := util.Limiter{Min: -7000000, Max: 7500000}
	for _, x := range []float64{-7000000, 0, 7500000} {
		if !l.Check(x) {
			t.Errorf("expected %f to be within %v", x, l)
		}
	}
	for _, x := range []float64{-7000001, 7500001, 8000000} {
		if l.Check(x) {
			t.Errorf("expected %f to be outside %v", x, l)
		}
	}
}
