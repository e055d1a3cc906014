package fs

import (
	"errors"
	"fmt"
	"math"
)

var ErrShapeOverflow = errors.New("shape overflow")

// Elements berechnet das Produkt der Dimensionen. Der Fehler kommt, sobald
// Elemente mal elemSize nicht mehr in int passen. Eine 0-Dimension ergibt 0.
func Elements[T ~int | ~int64 | ~uint64](shape []T, elemSize int) (int, error) {
	limit := math.MaxInt / max(elemSize, 1)

	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in %v", shape)
		}

		if uint64(d) > uint64(limit) {
			return 0, fmt.Errorf("%w: %v", ErrShapeOverflow, shape)
		}

		if d == 0 {
			n = 0
			continue
		}

		if n > limit/int(d) {
			return 0, fmt.Errorf("%w: %v", ErrShapeOverflow, shape)
		}
		n *= int(d)
	}

	return n, nil
}
