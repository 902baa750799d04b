package query

import (
	"errors"
	"fmt"
	"math"

	"web/clustermap/geo"
)

var ErrMissingRequiredField = errors.New("missing required field")

// Box is one latitude/longitude range of a bounding box. A box crossing the
// antimeridian is represented as two boxes.
type Box struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

func (b Box) Contains(c geo.Coordinate) bool {
	return c.Latitude >= b.MinLatitude && c.Latitude <= b.MaxLatitude &&
		c.Longitude >= b.MinLongitude && c.Longitude <= b.MaxLongitude
}

func (b Box) Center() geo.Coordinate {
	return geo.Coordinate{
		Latitude:  (b.MinLatitude + b.MaxLatitude) / 2,
		Longitude: (b.MinLongitude + b.MaxLongitude) / 2,
	}
}

// FetchRequest is built fresh for every refresh and never mutated.
type FetchRequest struct {
	Entity         string
	LatitudeField  string
	LongitudeField string
	Region         geo.Region
	Boxes          []Box
	// Filter is the caller-supplied predicate, nil when absent.
	Filter Predicate
	// Predicate combines the bounding boxes with Filter.
	Predicate Predicate
}

// Contains reports whether c falls inside any of the request's boxes.
func (r FetchRequest) Contains(c geo.Coordinate) bool {
	for _, b := range r.Boxes {
		if b.Contains(c) {
			return true
		}
	}
	return false
}

// Build computes the bounding boxes of region and the predicate selecting
// records inside them, ANDed with extra when it is non-nil.
func Build(entity, latField, lonField string, region geo.Region, extra Predicate) (FetchRequest, error) {
	switch {
	case entity == "":
		return FetchRequest{}, fmt.Errorf("%w: entity name", ErrMissingRequiredField)
	case latField == "":
		return FetchRequest{}, fmt.Errorf("%w: latitude field", ErrMissingRequiredField)
	case lonField == "":
		return FetchRequest{}, fmt.Errorf("%w: longitude field", ErrMissingRequiredField)
	}
	if err := region.Validate(); err != nil {
		return FetchRequest{}, err
	}

	boxes := Boxes(region)
	ranges := make([]Predicate, len(boxes))
	for i, b := range boxes {
		ranges[i] = And(
			Between(latField, b.MinLatitude, b.MaxLatitude),
			Between(lonField, b.MinLongitude, b.MaxLongitude),
		)
	}

	return FetchRequest{
		Entity:         entity,
		LatitudeField:  latField,
		LongitudeField: lonField,
		Region:         region,
		Boxes:          boxes,
		Filter:         extra,
		Predicate:      And(Or(ranges...), extra),
	}, nil
}

// Boxes returns the bounding boxes of region, split in two when the
// longitude range crosses the antimeridian.
func Boxes(region geo.Region) []Box {
	c := region.Center
	halfLat := region.Span.LatitudeDelta / 2
	halfLon := region.Span.LongitudeDelta / 2

	minLat := math.Max(-90, c.Latitude-halfLat)
	maxLat := math.Min(90, c.Latitude+halfLat)

	if region.Span.LongitudeDelta >= 360 {
		return []Box{{MinLatitude: minLat, MaxLatitude: maxLat, MinLongitude: -180, MaxLongitude: 180}}
	}

	center := geo.WrapLongitude(c.Longitude)
	minLon := center - halfLon
	maxLon := center + halfLon

	switch {
	case minLon < -180:
		return []Box{
			{MinLatitude: minLat, MaxLatitude: maxLat, MinLongitude: minLon + 360, MaxLongitude: 180},
			{MinLatitude: minLat, MaxLatitude: maxLat, MinLongitude: -180, MaxLongitude: maxLon},
		}
	case maxLon > 180:
		return []Box{
			{MinLatitude: minLat, MaxLatitude: maxLat, MinLongitude: minLon, MaxLongitude: 180},
			{MinLatitude: minLat, MaxLatitude: maxLat, MinLongitude: -180, MaxLongitude: maxLon - 360},
		}
	}
	return []Box{{MinLatitude: minLat, MaxLatitude: maxLat, MinLongitude: minLon, MaxLongitude: maxLon}}
}
