package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testT *testing.T

// SetT binds the helpers below to the running test.
func SetT(t *testing.T) {
	testT = t
}

// NoErr unwraps a (value, error) pair, failing the test on error.
func NoErr[T any](v T, err error) T {
	require.NoError(testT, err)
	return v
}

// Err expects a (value, error) pair to carry an error and returns it.
func Err[T any](_ T, err error) error {
	require.Error(testT, err)
	return err
}

// ErrIs expects a (value, error) pair whose error matches the target
// passed to the returned function.
func ErrIs[T any](_ T, err error) func(target error) {
	return func(target error) {
		require.ErrorIs(testT, err, target)
	}
}
