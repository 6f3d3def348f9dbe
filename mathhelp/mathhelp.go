package mathhelp

import "math"

func Bool2int(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FloorDiv rounds toward negative infinity, unlike Go's / which truncates.
func FloorDiv(d, m int) int {
	q := d / m
	if (d%m != 0) && ((d < 0) != (m < 0)) {
		q--
	}
	return q
}

// FloorToInt floors f and converts it to int.
func FloorToInt(f float64) int {
	return int(math.Floor(f))
}
