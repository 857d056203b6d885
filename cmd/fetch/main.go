package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/bathyreq/go-bathyreq/bathyreq"
)

func parseBounds(raw string) (lons, lats []float64, err error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, nil, errBounds(raw)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, nil, errBounds(raw)
		}
	}
	return []float64{vals[0], vals[2]}, []float64{vals[1], vals[3]}, nil
}

type errBounds string

func (e errBounds) Error() string {
	return "bounds must be 4 comma-separated numbers in lon_min,lat_min,lon_max,lat_max format, got " + string(e)
}

func parseSize(raw string) ([2]int, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return [2]int{}, errSize(raw)
	}
	var size [2]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 1 {
			return [2]int{}, errSize(raw)
		}
		size[i] = v
	}
	return size, nil
}

type errSize string

func (e errSize) Error() string {
	return "size must be 2 positive integers in width,height format, got " + string(e)
}

func main() {
	boundsStr := flag.String("bounds", "", "Comma-separated bounding box in lon_min,lat_min,lon_max,lat_max format.")
	sizeStr := flag.String("size", "400,400", "Requested raster size as width,height.")
	sourceStr := flag.String("source", "ncei", "Data source to query. Options are ncei, gebco.")
	formatStr := flag.String("format", "", "Raster format to request. Defaults to the source's native format.")
	outputPath := flag.String("output", "", "Path to write the raster to.")
	cacheDir := flag.String("cache-dir", "", "Directory to cache downloaded rasters in. Empty disables caching.")
	requestTimeout := flag.Int("timeout", 60, "HTTP client timeout for raster requests, in seconds.")
	flag.Parse()

	if *boundsStr == "" {
		log.Fatalf("Bounding box (-bounds) is required")
	}
	if *outputPath == "" {
		log.Fatalf("Output path (-output) is required")
	}

	lons, lats, err := parseBounds(*boundsStr)
	if err != nil {
		log.Fatalf("Couldn't parse bounds: %s", err)
	}

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("Couldn't parse size: %s", err)
	}

	var cache bathyreq.Cache
	if *cacheDir != "" {
		cache, err = bathyreq.NewDiskCache(*cacheDir)
		if err != nil {
			log.Fatalf("Couldn't create cache: %+v", err)
		}
	}

	client := bathyreq.NewClient(&bathyreq.ClientOptions{
		Source:  bathyreq.SourceID(*sourceStr),
		Timeout: time.Duration(*requestTimeout) * time.Second,
		Cache:   cache,
	})

	f, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("Couldn't create output file: %+v", err)
	}
	defer f.Close()

	bar := progressbar.DefaultBytes(-1, "downloading")
	opts := &bathyreq.SourceOptions{Size: size, Format: *formatStr}

	n, err := client.Download(context.Background(), lons, lats, opts, io.MultiWriter(f, bar))
	if err != nil {
		log.Fatalf("Download failed: %+v", err)
	}

	if err := f.Close(); err != nil {
		log.Fatalf("Couldn't finish writing output: %+v", err)
	}

	log.Printf("Wrote %d bytes to %s", n, *outputPath)
}
