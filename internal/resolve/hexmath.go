// Package resolve merges the per-cluster analysis inventories and the raw
// worldbook snapshot into a single typed [World]: every UUID-bearing field
// becomes a typed edge, every edge either resolves or lands in the dangling
// ledger with a reason, and the spatial indexes cover the whole map.
package resolve

import (
	"fmt"
	"math"
)

// HexCoord is an axial hex-grid coordinate. The third cube coordinate is
// implicit: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int { return -h.Q - h.R }

// String renders the coordinate as "q,r", the form used as a JSON map key.
func (h HexCoord) String() string { return fmt.Sprintf("%d,%d", h.Q, h.R) }

// ParseHexCoord is the inverse of [HexCoord.String].
func ParseHexCoord(s string) (HexCoord, error) {
	var h HexCoord
	if _, err := fmt.Sscanf(s, "%d,%d", &h.Q, &h.R); err != nil {
		return HexCoord{}, fmt.Errorf("resolve: bad hex coord %q: %w", s, err)
	}
	return h, nil
}

// hexDirections are the six neighbor offsets in axial coordinates, starting
// east and proceeding counter-clockwise.
var hexDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var out [6]HexCoord
	for i, d := range hexDirections {
		out[i] = HexCoord{Q: h.Q + d.Q, R: h.R + d.R}
	}
	return out
}

// Distance returns the hex distance between two coordinates: the maximum of
// the absolute cube-coordinate differences.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	max := dq
	if dr > max {
		max = dr
	}
	if ds > max {
		max = ds
	}
	return max
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// HexSize is the circumradius of a hex in world units.
const HexSize = 1.0

// ToWorld converts an axial coordinate to the world-space center of its hex,
// pointy-top layout.
func (h HexCoord) ToWorld() (x, z float64) {
	x = HexSize * (math.Sqrt(3)*float64(h.Q) + math.Sqrt(3)/2*float64(h.R))
	z = HexSize * 1.5 * float64(h.R)
	return x, z
}

// FromWorld converts a world-space position back to the axial coordinate of
// the containing hex. It is the exact inverse of [HexCoord.ToWorld] for hex
// centers.
func FromWorld(x, z float64) HexCoord {
	q := (math.Sqrt(3)/3*x - 1.0/3*z) / HexSize
	r := (2.0 / 3 * z) / HexSize
	return roundHex(q, r)
}

// roundHex rounds fractional axial coordinates to the nearest hex by rounding
// in cube space and repairing the axis with the largest rounding error.
func roundHex(q, r float64) HexCoord {
	s := -q - r
	rq := math.Round(q)
	rr := math.Round(r)
	rs := math.Round(s)

	dq := math.Abs(rq - q)
	dr := math.Abs(rr - r)
	ds := math.Abs(rs - s)

	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return HexCoord{Q: int(rq), R: int(rr)}
}
