// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/afma4/internal/monitoring"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test unless got and want have the same length and
// every element differs by at most tol.
func AssertVecNear(t testing.TB, want, got []float64, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if math.IsNaN(got[i]) || math.Abs(want[i]-got[i]) > tol {
			t.Fatalf("element %d = %v, want %v (±%g); got %v", i, got[i], want[i], tol, got)
		}
	}
}

// AssertExactlyZero fails unless every element of v is exactly zero.
func AssertExactlyZero(t testing.TB, v []float64) {
	t.Helper()
	for i, x := range v {
		if x != 0 {
			t.Fatalf("element %d = %v, want exactly 0 (got %v)", i, x, v)
		}
	}
}

// MuteLogs silences monitoring.Logf for the duration of the test.
func MuteLogs(t testing.TB) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(original) })
}
