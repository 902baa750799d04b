package server

import (
	"web/clustermap/config"
	"web/clustermap/geo"
	"web/clustermap/mapview"
	"web/clustermap/session"
	"web/clustermap/store"
)

// ViewOptions maps the configured map and store onto map view options.
func ViewOptions(m config.Map, s config.Store) mapview.Options {
	opts := mapview.DefaultOptions()
	opts.EntityName = m.Entity
	opts.LatitudeField = m.LatitudeField
	opts.LongitudeField = m.LongitudeField
	opts.TitleField = m.TitleField
	opts.SubtitleField = m.SubtitleField
	opts.ClusterAnnotations = m.Clustering
	if m.MaxZoomLevel >= 0 {
		opts.MaxZoomLevelForClustering = geo.ZoomLevel(m.MaxZoomLevel)
	}
	opts.ResultsLimit = m.ResultsLimit
	opts.ZoomOnFirstRefresh = m.ZoomOnFirstRefresh
	if m.ClusterTitleFormat != "" {
		opts.ClusterTitleFormat = m.ClusterTitleFormat
	}
	opts.StoreConfiguration = store.Configuration{
		FileURL:            s.FileURL,
		InMemoryIdentifier: s.InMemoryIdentifier,
		ReadOnly:           s.ReadOnly,
		SchemaVersion:      s.SchemaVersion,
	}
	if s.EncryptionKey != "" {
		opts.StoreConfiguration.EncryptionKey = []byte(s.EncryptionKey)
	}
	return opts
}

// ViewFactory builds a session factory producing headless views over st.
func ViewFactory(st store.RecordStore, m config.Map, s config.Store) session.Factory {
	opts := ViewOptions(m, s)
	width, height := m.ViewWidth, m.ViewHeight
	if width <= 0 || height <= 0 {
		width, height = mapview.DefaultViewWidth, mapview.DefaultViewHeight
	}
	return func() (*mapview.MapView, error) {
		return mapview.New(st, nil, opts, mapview.WithViewSize(width, height))
	}
}
