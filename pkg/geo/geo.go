// Package geo provides the small amount of spherical geometry the gateway
// needs: great-circle distance and bearing, heading deltas, bounding-box
// helpers and coordinate quantization for cache and lock keys.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// EarthRadiusKm is the mean Earth radius used for haversine distances.
	EarthRadiusKm = 6371.0088

	// KmPerNauticalMile converts kilometres to nautical miles.
	KmPerNauticalMile = 1.852
)

// ErrInvalidBBox is returned when a bounding box has non-finite, out of
// range or inverted coordinates.
var ErrInvalidBBox = errors.New("invalid bounding box")

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BearingDeg returns the initial great-circle bearing from a to b,
// normalized to [0, 360).
func BearingDeg(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeDeg(degrees(math.Atan2(y, x)))
}

// NormalizeDeg maps any angle onto [0, 360).
func NormalizeDeg(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// AngleDelta returns the smallest absolute difference between two headings,
// in [0, 180].
func AngleDelta(a, b float64) float64 {
	d := math.Abs(NormalizeDeg(a) - NormalizeDeg(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// BBox is a lat/lon query rectangle.
type BBox struct {
	LaMin float64
	LoMin float64
	LaMax float64
	LoMax float64
}

// Validate checks that all corners are finite, in range and ordered.
func (b BBox) Validate() error {
	for _, v := range []float64{b.LaMin, b.LoMin, b.LaMax, b.LoMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBBox)
		}
	}
	if b.LaMin < -90 || b.LaMax > 90 || b.LoMin < -180 || b.LoMax > 180 {
		return fmt.Errorf("%w: coordinate out of range", ErrInvalidBBox)
	}
	if b.LaMin > b.LaMax || b.LoMin > b.LoMax {
		return fmt.Errorf("%w: min greater than max", ErrInvalidBBox)
	}
	return nil
}

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	return Point{Lat: (b.LaMin + b.LaMax) / 2, Lon: (b.LoMin + b.LoMax) / 2}
}

// Contains reports whether p lies inside the box (edges inclusive).
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.LaMin && p.Lat <= b.LaMax && p.Lon >= b.LoMin && p.Lon <= b.LoMax
}

// HalfDiagonalNM returns half the corner-to-corner distance in nautical
// miles. This is the radius of the smallest circle around Center that
// covers the whole box.
func (b BBox) HalfDiagonalNM() float64 {
	d := DistanceKm(Point{Lat: b.LaMin, Lon: b.LoMin}, Point{Lat: b.LaMax, Lon: b.LoMax})
	return d / 2 / KmPerNauticalMile
}

// Quantize snaps coordinate down onto a grid of stepSize and returns the
// bucket as a stable string. Values in the same bucket produce the same key.
func Quantize(coordinate, stepSize float64) string {
	if stepSize <= 0 || math.IsNaN(coordinate) || math.IsInf(coordinate, 0) {
		return strconv.FormatFloat(coordinate, 'f', -1, 64)
	}
	q := coordinate / stepSize
	// 39.7/0.1 is 396.999...; snap near-integers before flooring
	if r := math.Round(q); math.Abs(q-r) < 1e-6 {
		q = r
	}
	v := math.Floor(q) * stepSize
	if v == 0 {
		v = 0 // no "-0"
	}
	return strconv.FormatFloat(v, 'f', stepDecimals(stepSize), 64)
}

func stepDecimals(step float64) int {
	for d := 0; d < 9; d++ {
		scaled := step * math.Pow10(d)
		if math.Abs(scaled-math.Round(scaled)) < 1e-9 {
			return d
		}
	}
	return 9
}

// BucketKey quantizes every corner of the box and joins them, so nearby
// boxes share one bucket.
func (b BBox) BucketKey(stepSize float64) string {
	return Quantize(b.LaMin, stepSize) + "," + Quantize(b.LoMin, stepSize) + "," +
		Quantize(b.LaMax, stepSize) + "," + Quantize(b.LoMax, stepSize)
}
