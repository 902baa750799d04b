package cluster

import (
	"fmt"
	"math/rand"

	"web/clustermap/geo"
)

type Summary struct {
	TotalPoints     int            `json:"totalPoints"`
	NumClusters     int            `json:"numClusters"`
	NumSinglePoints int            `json:"numSinglePoints"`
	LargestCluster  int            `json:"largestCluster"`
	Entities        map[string]int `json:"entities"`
	Bounds          *geo.Region    `json:"bounds,omitempty"`
}

func Summarize(annotations []Annotation) Summary {
	summary := Summary{
		Entities: make(map[string]int),
	}

	if len(annotations) == 0 {
		return summary
	}

	coords := make([]geo.Coordinate, 0, len(annotations))
	for _, a := range annotations {
		if a.Kind == KindCluster {
			summary.NumClusters++
			if a.Count() > summary.LargestCluster {
				summary.LargestCluster = a.Count()
			}
		} else {
			summary.NumSinglePoints++
		}
		summary.TotalPoints += a.Count()

		for _, m := range a.Members {
			summary.Entities[m.Entity]++
			coords = append(coords, m.Coordinate)
		}
	}

	bounds := geo.RegionForMapRect(geo.BoundingMapRect(coords))
	summary.Bounds = &bounds
	return summary
}

// GenerateTestRecords scatters n records uniformly over region.
func GenerateTestRecords(n int, entity string, region geo.Region, rng *rand.Rand) []RecordRef {
	categories := []string{"A", "B", "C"}
	minLat := region.Center.Latitude - region.Span.LatitudeDelta/2
	minLon := region.Center.Longitude - region.Span.LongitudeDelta/2

	records := make([]RecordRef, n)
	for i := 0; i < n; i++ {
		coord := geo.Coordinate{
			Latitude:  minLat + rng.Float64()*region.Span.LatitudeDelta,
			Longitude: geo.WrapLongitude(minLon + rng.Float64()*region.Span.LongitudeDelta),
		}
		category := categories[rng.Intn(len(categories))]
		records[i] = NewRecordRef(
			fmt.Sprintf("%08d", i+1),
			entity,
			coord,
			fmt.Sprintf("%s %d", entity, i+1),
			"category "+category,
			nil,
		)
	}
	return records
}
