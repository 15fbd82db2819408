// Package fancurve implements the closed-loop fan controller: a background
// task that samples temperature, maps it through a user-defined curve with
// hysteresis and ramp limiting, and writes fan speeds through the gateway.
package fancurve

import "sort"

// Point is one control point of a fan curve.
type Point struct {
	Temp    int `json:"temp"`
	Percent int `json:"percent"`
}

// Curve is a sorted set of control points mapping temperature to fan
// percent.
type Curve []Point

// NewCurve builds a sorted curve from a temperature→percent mapping.
func NewCurve(points map[int]int) Curve {
	c := make(Curve, 0, len(points))
	for t, p := range points {
		c = append(c, Point{Temp: t, Percent: p})
	}
	sort.Slice(c, func(i, j int) bool { return c[i].Temp < c[j].Temp })
	return c
}

// Points returns the curve as a temperature→percent mapping.
func (c Curve) Points() map[int]int {
	m := make(map[int]int, len(c))
	for _, p := range c {
		m[p.Temp] = p.Percent
	}
	return m
}

// Interpolate maps a temperature to a fan percent. Below the lowest point
// the lowest point's percent is used; above the highest, the highest's;
// between two points the value is linearly interpolated.
func (c Curve) Interpolate(temp int) int {
	if len(c) == 0 {
		return 0
	}
	if temp <= c[0].Temp {
		return c[0].Percent
	}
	last := c[len(c)-1]
	if temp >= last.Temp {
		return last.Percent
	}

	for i := 0; i < len(c)-1; i++ {
		p1, p2 := c[i], c[i+1]
		if temp >= p1.Temp && temp <= p2.Temp {
			return p1.Percent + (p2.Percent-p1.Percent)*(temp-p1.Temp)/(p2.Temp-p1.Temp)
		}
	}
	return last.Percent
}
