package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns PowerOfTwoError if number is not a power of two. Zero is accepted so that callers
// can substitute their own default afterward.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns AlignmentError if value is not a multiple of alignment, which must be a power of two
func CheckAligned[T constraints.Unsigned](value T, alignment T, name string) error {
	if !IsAligned(value, alignment) {
		return cerrors.Wrapf(AlignmentError, "%s (%#x) must be aligned to %#x", name, uint64(value), uint64(alignment))
	}
	return nil
}

func AlignUp[T constraints.Unsigned](value T, alignment T) T {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T constraints.Unsigned](value T, alignment T) T {
	if alignment == 0 {
		return value
	}
	return value &^ (alignment - 1)
}

func IsAligned[T constraints.Unsigned](value T, alignment T) bool {
	if alignment == 0 {
		return true
	}
	return value&(alignment-1) == 0
}
