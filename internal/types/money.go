// README: Money rounding helpers shared by pricing and bookings.
package types

import "math"

// RoundMoney rounds half away from zero to 2 decimal places.
func RoundMoney(v float64) float64 {
	return RoundTo(v, 2)
}

// RoundTo rounds half away from zero to the given number of decimal places.
// A tiny bias absorbs binary representation error (2.675 is stored as 2.67499...).
func RoundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	scaled := math.Abs(v)*scale + 1e-9
	r := math.Floor(scaled+0.5) / scale
	if v < 0 {
		return -r
	}
	return r
}
