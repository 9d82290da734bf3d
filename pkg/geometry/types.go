// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"image"
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Round returns the nearest integer pixel position, rounding halves to even.
func (p Point2D) Round() PointInt {
	return PointInt{X: int(math.RoundToEven(p.X)), Y: int(math.RoundToEven(p.Y))}
}

// PointInt represents a 2D point with integer coordinates.
type PointInt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ToFloat converts to Point2D.
func (p PointInt) ToFloat() Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// ImagePoint converts to an image.Point.
func (p PointInt) ImagePoint() image.Point {
	return image.Pt(p.X, p.Y)
}

// BoxInt is an axis-aligned pixel box with inclusive corners.
type BoxInt struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

// Width returns the number of pixel columns covered.
func (b BoxInt) Width() int {
	return b.XMax - b.XMin + 1
}

// Height returns the number of pixel rows covered.
func (b BoxInt) Height() int {
	return b.YMax - b.YMin + 1
}

// Contains reports whether the pixel lies inside the box.
func (b BoxInt) Contains(x, y int) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Rectangle converts the inclusive box to the corner points expected by
// drawing routines (Max is the last covered pixel, not one past it).
func (b BoxInt) Rectangle() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Extend grows the box to cover the pixel.
func (b BoxInt) Extend(x, y int) BoxInt {
	if x < b.XMin {
		b.XMin = x
	}
	if x > b.XMax {
		b.XMax = x
	}
	if y < b.YMin {
		b.YMin = y
	}
	if y > b.YMax {
		b.YMax = y
	}
	return b
}
