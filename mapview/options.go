package mapview

import (
	"fmt"

	"web/clustermap/cluster"
	"web/clustermap/fetch"
	"web/clustermap/geo"
	"web/clustermap/query"
	"web/clustermap/store"
)

// Options configure what a MapView fetches and how it displays it.
type Options struct {
	// EntityName, LatitudeField and LongitudeField are required.
	EntityName     string
	LatitudeField  string
	LongitudeField string
	TitleField     string
	SubtitleField  string

	ClusterAnnotations bool
	// AutoRefresh refetches after every region change.
	AutoRefresh bool
	// ZoomOnFirstRefresh moves the viewport to fit the first non-empty
	// fetch instead of displaying it.
	ZoomOnFirstRefresh bool
	AnimateAnnotations bool
	CanShowCallout     bool

	// MaxZoomLevelForClustering is the deepest zoom level that still
	// clusters; deeper levels show every record on its own.
	MaxZoomLevelForClustering geo.ZoomLevel
	ResultsLimit              int
	BasePredicate             query.Predicate
	ClusterTitleFormat        string
	SortDescriptor            *fetch.SortDescriptor

	StoreConfiguration store.Configuration
}

func DefaultOptions() Options {
	return Options{
		ClusterAnnotations:        true,
		AutoRefresh:               true,
		ZoomOnFirstRefresh:        true,
		AnimateAnnotations:        true,
		CanShowCallout:            true,
		MaxZoomLevelForClustering: geo.MaxZoomLevel,
		ResultsLimit:              store.Unlimited,
		ClusterTitleFormat:        cluster.CountToken,
	}
}

// Validate reports the first missing required field.
func (o Options) Validate() error {
	switch {
	case o.EntityName == "":
		return fmt.Errorf("%w: entity name", query.ErrMissingRequiredField)
	case o.LatitudeField == "":
		return fmt.Errorf("%w: latitude field", query.ErrMissingRequiredField)
	case o.LongitudeField == "":
		return fmt.Errorf("%w: longitude field", query.ErrMissingRequiredField)
	}
	return nil
}

// request derives the fetch for one viewport.
func (o Options) request(region geo.Region, visible geo.MapRect, zoomScale float64) (query.FetchRequest, fetch.Params, error) {
	req, err := query.Build(o.EntityName, o.LatitudeField, o.LongitudeField, region, o.BasePredicate)
	if err != nil {
		return query.FetchRequest{}, fetch.Params{}, err
	}
	zoom := geo.ZoomLevelForZoomScale(zoomScale)
	return req, fetch.Params{
		Configuration:      o.StoreConfiguration,
		TitleField:         o.TitleField,
		SubtitleField:      o.SubtitleField,
		Clustering:         o.ClusterAnnotations && zoom <= o.MaxZoomLevelForClustering,
		VisibleMapRect:     visible,
		ZoomScale:          zoomScale,
		MaxZoomLevel:       o.MaxZoomLevelForClustering,
		ClusterTitleFormat: o.ClusterTitleFormat,
		ResultsLimit:       o.ResultsLimit,
		Sort:               o.SortDescriptor,
	}, nil
}
