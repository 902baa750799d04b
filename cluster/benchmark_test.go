package cluster

import (
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"testing"

	"web/clustermap/geo"
)

var usRegion = geo.Region{
	Center: geo.Coordinate{Latitude: 37, Longitude: -95},
	Span:   geo.Span{LatitudeDelta: 24, LongitudeDelta: 60},
}

// benchmarkClustering clusters numRecords spread over the continental US
// at the given zoom level.
func benchmarkClustering(b *testing.B, numRecords int, zoom int) {
	records := GenerateTestRecords(numRecords, "Place", usRegion, rand.New(rand.NewSource(42)))
	engine := NewEngine(DefaultOptions())

	visible := geo.MapRectForRegion(usRegion)
	scale := float64(uint64(1)<<uint(zoom)) / float64(uint64(1)<<20)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	b.ResetTimer()
	var annotations []Annotation
	for i := 0; i < b.N; i++ {
		annotations = engine.Cluster(records, visible, scale, geo.MaxZoomLevel)
	}
	b.StopTimer()

	runtime.ReadMemStats(&memStatsAfter)
	b.ReportMetric(float64(len(annotations)), "annotations")
	b.ReportMetric(float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc)/float64(b.N), "bytes/run")
}

func BenchmarkCluster(b *testing.B) {
	for _, n := range []int{1000, 10000, 100000} {
		for _, zoom := range []int{3, 8, 14} {
			b.Run(fmt.Sprintf("records=%d/zoom=%d", n, zoom), func(b *testing.B) {
				benchmarkClustering(b, n, zoom)
			})
		}
	}
}

func BenchmarkAnnotationKey(b *testing.B) {
	records := GenerateTestRecords(50, "Place", usRegion, rand.New(rand.NewSource(1)))
	a := Annotation{Kind: KindCluster, Members: records}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = a.Key()
	}
}

func BenchmarkWriteCompressed(b *testing.B) {
	records := GenerateTestRecords(10000, "Place", usRegion, rand.New(rand.NewSource(42)))
	annotations := NewEngine(DefaultOptions()).Cluster(records, geo.MapRectForRegion(usRegion), 1.0/4096, geo.MaxZoomLevel)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := WriteCompressed(io.Discard, annotations); err != nil {
			b.Fatal(err)
		}
	}
}
