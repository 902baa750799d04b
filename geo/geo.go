// Package geo holds the coordinate types and the flattened Web-Mercator
// map plane used for viewport math and clustering.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// WorldSize is the width and height of the map plane in map points
// (256 px tiles at zoom level 20).
const WorldSize = 268435456.0

// MaxLatitude is the Mercator latitude cutoff.
const MaxLatitude = 85.05112878

var ErrInvalidRegion = errors.New("invalid region")

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	return orbgeo.Distance(a.point(), b.point())
}

type Span struct {
	LatitudeDelta  float64 `json:"latitudeDelta"`
	LongitudeDelta float64 `json:"longitudeDelta"`
}

type Region struct {
	Center Coordinate `json:"center"`
	Span   Span       `json:"span"`
}

// Validate rejects negative or non-finite spans and invalid centers.
func (r Region) Validate() error {
	if !r.Center.Valid() {
		return fmt.Errorf("%w: center %v", ErrInvalidRegion, r.Center)
	}
	lat, lon := r.Span.LatitudeDelta, r.Span.LongitudeDelta
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: span %v", ErrInvalidRegion, r.Span)
	}
	if lat < 0 || lon < 0 {
		return fmt.Errorf("%w: negative span %v", ErrInvalidRegion, r.Span)
	}
	return nil
}

// Inflate scales both span deltas by factor.
func (r Region) Inflate(factor float64) Region {
	r.Span.LatitudeDelta *= factor
	r.Span.LongitudeDelta *= factor
	return r
}

// RegionFromBounds builds a region from north/south/east/west edges. An east
// edge west of the west edge is read as crossing the antimeridian.
func RegionFromBounds(north, south, east, west float64) Region {
	if east < west {
		east += 360
	}
	center := Coordinate{
		Latitude:  (north + south) / 2,
		Longitude: WrapLongitude((east + west) / 2),
	}
	return Region{
		Center: center,
		Span:   Span{LatitudeDelta: north - south, LongitudeDelta: east - west},
	}
}

// WrapLongitude normalizes lon into [-180, 180].
func WrapLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

type MapPoint struct {
	X, Y float64
}

type MapSize struct {
	Width, Height float64
}

type MapRect struct {
	Origin MapPoint
	Size   MapSize
}

// NullMapRect is the identity for Union.
var NullMapRect = MapRect{Origin: MapPoint{X: math.Inf(1), Y: math.Inf(1)}}

func NewMapRect(x, y, w, h float64) MapRect {
	return MapRect{Origin: MapPoint{X: x, Y: y}, Size: MapSize{Width: w, Height: h}}
}

func (r MapRect) IsNull() bool {
	return math.IsInf(r.Origin.X, 1) || math.IsInf(r.Origin.Y, 1)
}

func (r MapRect) MinX() float64 { return r.Origin.X }
func (r MapRect) MinY() float64 { return r.Origin.Y }
func (r MapRect) MaxX() float64 { return r.Origin.X + r.Size.Width }
func (r MapRect) MaxY() float64 { return r.Origin.Y + r.Size.Height }
func (r MapRect) MidX() float64 { return r.Origin.X + r.Size.Width/2 }
func (r MapRect) MidY() float64 { return r.Origin.Y + r.Size.Height/2 }

// Contains reports whether p lies inside r, edges included.
func (r MapRect) Contains(p MapPoint) bool {
	if r.IsNull() {
		return false
	}
	return p.X >= r.MinX() && p.X <= r.MaxX() && p.Y >= r.MinY() && p.Y <= r.MaxY()
}

func (r MapRect) Union(o MapRect) MapRect {
	if r.IsNull() {
		return o
	}
	if o.IsNull() {
		return r
	}
	minX := math.Min(r.MinX(), o.MinX())
	minY := math.Min(r.MinY(), o.MinY())
	maxX := math.Max(r.MaxX(), o.MaxX())
	maxY := math.Max(r.MaxY(), o.MaxY())
	return NewMapRect(minX, minY, maxX-minX, maxY-minY)
}

// MapPointForCoordinate projects c onto the map plane. Longitudes outside
// [-180, 180] are projected without wrapping so rects can extend past the
// antimeridian.
func MapPointForCoordinate(c Coordinate) MapPoint {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, c.Latitude))
	sin := math.Sin(lat * math.Pi / 180)
	x := (c.Longitude + 180) / 360
	y := 0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)
	return MapPoint{X: x * WorldSize, Y: y * WorldSize}
}

func CoordinateForMapPoint(p MapPoint) Coordinate {
	lon := p.X/WorldSize*360 - 180
	n := math.Pi * (1 - 2*p.Y/WorldSize)
	lat := math.Atan(math.Sinh(n)) * 180 / math.Pi
	return Coordinate{Latitude: lat, Longitude: lon}
}

// MapRectForRegion returns the map rect covering region.
func MapRectForRegion(r Region) MapRect {
	topLeft := MapPointForCoordinate(Coordinate{
		Latitude:  r.Center.Latitude + r.Span.LatitudeDelta/2,
		Longitude: r.Center.Longitude - r.Span.LongitudeDelta/2,
	})
	bottomRight := MapPointForCoordinate(Coordinate{
		Latitude:  r.Center.Latitude - r.Span.LatitudeDelta/2,
		Longitude: r.Center.Longitude + r.Span.LongitudeDelta/2,
	})
	return NewMapRect(topLeft.X, topLeft.Y, bottomRight.X-topLeft.X, bottomRight.Y-topLeft.Y)
}

// RegionForMapRect is the inverse of MapRectForRegion.
func RegionForMapRect(rect MapRect) Region {
	topLeft := CoordinateForMapPoint(rect.Origin)
	bottomRight := CoordinateForMapPoint(MapPoint{X: rect.MaxX(), Y: rect.MaxY()})
	center := CoordinateForMapPoint(MapPoint{X: rect.MidX(), Y: rect.MidY()})
	center.Longitude = WrapLongitude(center.Longitude)
	return Region{
		Center: center,
		Span: Span{
			LatitudeDelta:  topLeft.Latitude - bottomRight.Latitude,
			LongitudeDelta: rect.Size.Width / WorldSize * 360,
		},
	}
}

// RegionThatFits grows one span of r so the region matches the aspect ratio
// of a view of widthPx by heightPx.
func RegionThatFits(r Region, widthPx, heightPx float64) Region {
	if widthPx <= 0 || heightPx <= 0 {
		return r
	}
	rect := MapRectForRegion(r)
	want := widthPx / heightPx
	switch {
	case rect.Size.Height == 0 && rect.Size.Width == 0:
		return r
	case rect.Size.Height == 0 || rect.Size.Width/rect.Size.Height > want:
		h := rect.Size.Width / want
		rect.Origin.Y -= (h - rect.Size.Height) / 2
		rect.Size.Height = h
	default:
		w := rect.Size.Height * want
		rect.Origin.X -= (w - rect.Size.Width) / 2
		rect.Size.Width = w
	}
	return RegionForMapRect(rect)
}

// BoundingMapRect returns the union of the zero-size rects at each coordinate.
func BoundingMapRect(coords []Coordinate) MapRect {
	rect := NullMapRect
	for _, c := range coords {
		p := MapPointForCoordinate(c)
		rect = rect.Union(NewMapRect(p.X, p.Y, 0, 0))
	}
	return rect
}
