package geo

import "math"

// ZoomLevel runs from 0 (whole world) to MaxZoomLevel.
type ZoomLevel uint

const MaxZoomLevel ZoomLevel = 20

// ZoomScale returns view pixels per map point for a view of viewWidthPx
// showing visible.
func ZoomScale(visible MapRect, viewWidthPx float64) float64 {
	if visible.IsNull() || visible.Size.Width <= 0 {
		return 0
	}
	return viewWidthPx / visible.Size.Width
}

// ZoomLevelForZoomScale rounds log2 of the scale to the nearest level.
func ZoomLevelForZoomScale(zoomScale float64) ZoomLevel {
	if zoomScale <= 0 || math.IsNaN(zoomScale) {
		return 0
	}
	maxLevel := math.Log2(WorldSize / 256)
	z := maxLevel + math.Floor(math.Log2(zoomScale)+0.5)
	if z < 0 {
		return 0
	}
	if z > float64(MaxZoomLevel) {
		return MaxZoomLevel
	}
	return ZoomLevel(z)
}

func ZoomLevelForVisibleMapRect(visible MapRect, viewWidthPx float64) ZoomLevel {
	return ZoomLevelForZoomScale(ZoomScale(visible, viewWidthPx))
}
