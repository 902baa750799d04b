package cluster

// GeoJSON types
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ToGeoJSON converts annotations to a point FeatureCollection.
func ToGeoJSON(annotations []Annotation) *FeatureCollection {
	features := make([]Feature, len(annotations))
	for i, a := range annotations {
		properties := map[string]interface{}{
			"cluster":     a.Kind == KindCluster,
			"point_count": a.Count(),
			"key":         a.Key(),
		}
		if a.Title != "" {
			properties["title"] = a.Title
		}
		if a.Subtitle != "" {
			properties["subtitle"] = a.Subtitle
		}
		if r, ok := a.Record(); ok {
			properties["id"] = r.ID
			properties["entity"] = r.Entity
			if r.Distance != NoDistance {
				properties["distance"] = r.Distance
			}
		} else {
			ids := make([]string, len(a.Members))
			for j, m := range a.Members {
				ids[j] = m.ID
			}
			properties["member_ids"] = ids
		}

		features[i] = Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{a.Coordinate.Longitude, a.Coordinate.Latitude},
			},
			Properties: properties,
		}
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
