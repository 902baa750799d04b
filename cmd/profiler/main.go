package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"web/clustermap/archive"
	"web/clustermap/cluster"
	"web/clustermap/geo"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to file")
	heapprofile = flag.String("heapprofile", "", "write heap profile to file")
	numRecords  = flag.Int("records", 100000, "number of records to generate")
	zoomLevel   = flag.Int("zoom", 8, "zoom level to profile")
	testall     = flag.Bool("testall", false, "test all configurations")
	storage     = flag.Bool("storage", false, "also time compressed and mmap snapshot files")
)

// Continental US.
var usRegion = geo.RegionFromBounds(49, 25, -67, -125)

// zoomScale is the screen points per map point at zoom.
func zoomScale(zoom int) float64 {
	return math.Pow(2, float64(zoom)-float64(geo.MaxZoomLevel))
}

type result struct {
	annotations []cluster.Annotation
	duration    time.Duration
	allocMB     float64
	gcRuns      uint32
}

func measure(records []cluster.RecordRef, zoom int) result {
	engine := cluster.NewEngine(cluster.DefaultOptions())
	visible := geo.MapRectForRegion(usRegion)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()
	annotations := engine.Cluster(records, visible, zoomScale(zoom), geo.MaxZoomLevel)
	duration := time.Since(start)
	runtime.ReadMemStats(&after)

	return result{
		annotations: annotations,
		duration:    duration,
		allocMB:     float64(after.TotalAlloc-before.TotalAlloc) / 1024 / 1024,
		gcRuns:      after.NumGC - before.NumGC,
	}
}

func runSingleProfile(n, zoom int) {
	fmt.Printf("Profiling with %d records at zoom level %d\n", n, zoom)
	records := cluster.GenerateTestRecords(n, "Place", usRegion, rand.New(rand.NewSource(42)))

	res := measure(records, zoom)
	clusters := 0
	for _, a := range res.annotations {
		if a.Kind == cluster.KindCluster {
			clusters++
		}
	}
	fmt.Printf("Clustering completed in %v: %d annotations, %d clusters\n", res.duration, len(res.annotations), clusters)
	fmt.Printf("Memory allocated: %.2f MB\n", res.allocMB)

	if *storage {
		profileStorage(res.annotations)
	}
}

func profileStorage(annotations []cluster.Annotation) {
	dir, err := os.MkdirTemp("", "clustermap-profile")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create temp dir: %v\n", err)
		return
	}
	defer os.RemoveAll(dir)

	for _, format := range []struct {
		name string
		save func(string, []cluster.Annotation) error
		load func(string) ([]cluster.Annotation, error)
	}{
		{"zstd", cluster.SaveCompressed, cluster.LoadCompressed},
		{"mmap", cluster.SaveMMap, cluster.LoadMMap},
	} {
		path := filepath.Join(dir, "snapshot."+format.name)
		start := time.Now()
		if err := format.save(path, annotations); err != nil {
			fmt.Fprintf(os.Stderr, "%s save failed: %v\n", format.name, err)
			continue
		}
		saved := time.Since(start)
		start = time.Now()
		if _, err := format.load(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s load failed: %v\n", format.name, err)
			continue
		}
		loaded := time.Since(start)
		size := "?"
		if st, err := os.Stat(path); err == nil {
			size = archive.FormatSize(st.Size())
		}
		fmt.Printf("%-5s save %-12v load %-12v size %s\n", format.name, saved, loaded, size)
	}
}

func runProfileBattery() {
	recordCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []int{2, 5, 8, 12, 15}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-6s | %-12s | %-15s | %-12s | %-8s\n",
		"Records", "Zoom", "Annotations", "Duration", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	for _, n := range recordCounts {
		records := cluster.GenerateTestRecords(n, "Place", usRegion, rand.New(rand.NewSource(42)))
		for _, zoom := range zoomLevels {
			res := measure(records, zoom)
			fmt.Printf("%-10d | %-6d | %-12d | %-15s | %-12.2f | %-8d\n",
				n, zoom, len(res.annotations), res.duration, res.allocMB, res.gcRuns)
		}
		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numRecords, *zoomLevel)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}

	if *heapprofile != "" {
		f, err := os.Create(*heapprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create heap profile: %v\n", err)
			return
		}
		defer f.Close()

		heap := pprof.Lookup("heap")
		if heap == nil {
			fmt.Fprintf(os.Stderr, "Could not find heap profile\n")
			return
		}
		if err := heap.WriteTo(f, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write heap profile: %v\n", err)
		}
	}
}
