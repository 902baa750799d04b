// Package cluster groups records into grid clusters at the current map zoom.
package cluster

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"web/clustermap/geo"
)

// CountToken is replaced by the member count in a cluster title format.
const CountToken = "$OBJECTSCOUNT"

// CellSizeFunc returns the grid cell side in view pixels for a zoom level.
type CellSizeFunc func(zoom geo.ZoomLevel) float64

// DefaultCellSize shrinks the cells as the map zooms in so clusters break
// apart before the street level.
func DefaultCellSize(zoom geo.ZoomLevel) float64 {
	switch {
	case zoom >= 19:
		return 16
	case zoom >= 16:
		return 32
	case zoom >= 13:
		return 64
	}
	return 88
}

// ConstantCellSize returns a CellSizeFunc that ignores the zoom level.
func ConstantCellSize(px float64) CellSizeFunc {
	return func(geo.ZoomLevel) float64 { return px }
}

type Options struct {
	CellSize    CellSizeFunc
	TitleFormat string
}

func DefaultOptions() Options {
	return Options{
		CellSize:    DefaultCellSize,
		TitleFormat: CountToken,
	}
}

// Engine is stateless between calls and safe for concurrent use.
type Engine struct {
	Options Options
}

func NewEngine(options Options) *Engine {
	if options.CellSize == nil {
		options.CellSize = DefaultCellSize
	}
	if options.TitleFormat == "" {
		options.TitleFormat = CountToken
	}
	return &Engine{Options: options}
}

type cellKey struct {
	col, row int64
}

type bucket struct {
	key     cellKey
	members []RecordRef
}

// Cluster partitions records falling inside visible into grid cells of
// CellSize(zoom)/zoomScale map points. Cells holding one record become
// singles. Past maxZoom every record becomes a single, visible or not.
func (e *Engine) Cluster(records []RecordRef, visible geo.MapRect, zoomScale float64, maxZoom geo.ZoomLevel) []Annotation {
	sorted := sortedByID(records)

	zoom := geo.ZoomLevelForZoomScale(zoomScale)
	if zoomScale <= 0 || math.IsNaN(zoomScale) || zoom > maxZoom {
		return Singles(sorted)
	}

	cellSize := e.Options.CellSize(zoom) / zoomScale
	if cellSize <= 0 || math.IsInf(cellSize, 0) || math.IsNaN(cellSize) {
		return Singles(sorted)
	}

	cells := make(map[cellKey]*bucket)
	for _, r := range sorted {
		p, ok := locate(visible, geo.MapPointForCoordinate(r.Coordinate))
		if !ok {
			continue
		}
		key := cellKey{
			col: int64(math.Floor(p.X / cellSize)),
			row: int64(math.Floor(p.Y / cellSize)),
		}
		b, ok := cells[key]
		if !ok {
			b = &bucket{key: key}
			cells[key] = b
		}
		b.members = append(b.members, r)
	}

	ordered := make([]*bucket, 0, len(cells))
	for _, b := range cells {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].key.row != ordered[j].key.row {
			return ordered[i].key.row < ordered[j].key.row
		}
		return ordered[i].key.col < ordered[j].key.col
	})

	annotations := make([]Annotation, 0, len(ordered))
	for _, b := range ordered {
		if len(b.members) == 1 {
			annotations = append(annotations, NewSingle(b.members[0]))
			continue
		}
		annotations = append(annotations, e.createCluster(b.members))
	}
	return annotations
}

// locate finds p inside visible, trying the copies of p one world to the
// east and west for rects that extend past the antimeridian.
func locate(visible geo.MapRect, p geo.MapPoint) (geo.MapPoint, bool) {
	for _, shift := range [...]float64{0, geo.WorldSize, -geo.WorldSize} {
		q := geo.MapPoint{X: p.X + shift, Y: p.Y}
		if visible.Contains(q) {
			return q, true
		}
	}
	return p, false
}

// createCluster places the cluster at the mean of its members. Longitudes
// are unwrapped around the first member so a cell straddling the
// antimeridian does not average to the prime meridian.
func (e *Engine) createCluster(members []RecordRef) Annotation {
	var sumLat, sumLon float64
	anchor := members[0].Coordinate.Longitude
	for _, m := range members {
		lon := m.Coordinate.Longitude
		switch {
		case lon-anchor > 180:
			lon -= 360
		case anchor-lon > 180:
			lon += 360
		}
		sumLat += m.Coordinate.Latitude
		sumLon += lon
	}
	n := float64(len(members))
	return Annotation{
		Kind:       KindCluster,
		Coordinate: geo.Coordinate{Latitude: sumLat / n, Longitude: geo.WrapLongitude(sumLon / n)},
		Title:      Title(e.Options.TitleFormat, len(members)),
		Members:    members,
	}
}

// Title substitutes count into format.
func Title(format string, count int) string {
	if format == "" {
		format = CountToken
	}
	return strings.ReplaceAll(format, CountToken, strconv.Itoa(count))
}

func sortedByID(records []RecordRef) []RecordRef {
	out := make([]RecordRef, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}
