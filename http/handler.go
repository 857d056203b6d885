package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"math"
	gohttp "net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bathyreq/go-bathyreq/bathyreq"
)

// BathyHandler serves bathymetry exports over HTTP:
//
//	GET /bathy/export?bbox=lon_min,lat_min,lon_max,lat_max&size=400,400&format=json
//
// format json returns the grid with its coordinate vectors; format png
// returns a grayscale render. baseOpts seeds the source options for every
// request; bbox, size and format come from the query string.
func BathyHandler(client *bathyreq.Client, baseOpts *bathyreq.SourceOptions) gohttp.Handler {
	r := chi.NewRouter()
	r.Get("/bathy/export", exportHandler(client, baseOpts))
	return r
}

type exportResponse struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Bounds [4]float64  `json:"bounds"` // lon_min, lat_min, lon_max, lat_max
	Data   [][]float64 `json:"data"`   // rows south to north
	LonVec []float64   `json:"lonvec"`
	LatVec []float64   `json:"latvec"`
}

func exportHandler(client *bathyreq.Client, baseOpts *bathyreq.SourceOptions) gohttp.HandlerFunc {
	return func(w gohttp.ResponseWriter, r *gohttp.Request) {
		lons, lats, err := parseBboxParam(r.URL.Query().Get("bbox"))
		if err != nil {
			gohttp.Error(w, fmt.Sprintf("invalid bbox: %s", err), gohttp.StatusBadRequest)
			return
		}

		opts := bathyreq.SourceOptions{}
		if baseOpts != nil {
			opts = *baseOpts
		}

		if sizeStr := r.URL.Query().Get("size"); sizeStr != "" {
			size, err := parseSizeParam(sizeStr)
			if err != nil {
				gohttp.Error(w, fmt.Sprintf("invalid size: %s", err), gohttp.StatusBadRequest)
				return
			}
			opts.Size = size
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		if format != "json" && format != "png" {
			gohttp.Error(w, fmt.Sprintf("unknown format %q", format), gohttp.StatusBadRequest)
			return
		}

		grid, err := client.GetArea(r.Context(), lons, lats, &opts)
		if err != nil {
			if errors.Is(err, bathyreq.ErrSourceNotImplemented) {
				gohttp.Error(w, err.Error(), gohttp.StatusNotImplemented)
				return
			}
			log.Printf("Couldn't fetch bathymetry: %+v", err)
			gohttp.Error(w, "upstream fetch failed", gohttp.StatusBadGateway)
			return
		}

		switch format {
		case "json":
			writeJSON(w, grid)
		case "png":
			writePNG(w, grid)
		}
	}
}

func writeJSON(w gohttp.ResponseWriter, grid *bathyreq.Grid) {
	rows := make([][]float64, grid.Height)
	for row := 0; row < grid.Height; row++ {
		rows[row] = grid.Values[row*grid.Width : (row+1)*grid.Width]
	}

	resp := exportResponse{
		Width:  grid.Width,
		Height: grid.Height,
		Bounds: [4]float64{
			grid.Bounds.Min.X(), grid.Bounds.Min.Y(),
			grid.Bounds.Max.X(), grid.Bounds.Max.Y(),
		},
		Data:   rows,
		LonVec: grid.LonVec(),
		LatVec: grid.LatVec(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Couldn't encode export response: %+v", err)
	}
}

// writePNG renders the grid as grayscale, darkest at the deepest point.
func writePNG(w gohttp.ResponseWriter, grid *bathyreq.Grid) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range grid.Values {
		if grid.HasNoData && v == grid.NoData {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 || math.IsInf(lo, 1) {
		span = 1
	}

	img := image.NewGray(image.Rect(0, 0, grid.Width, grid.Height))
	for row := 0; row < grid.Height; row++ {
		// Grid row 0 is the southern edge; image row 0 is the top.
		imgRow := grid.Height - 1 - row
		for col := 0; col < grid.Width; col++ {
			v := grid.At(col, row)
			if grid.HasNoData && v == grid.NoData {
				continue
			}
			img.Pix[imgRow*img.Stride+col] = uint8((v - lo) / span * 255)
		}
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		log.Printf("Couldn't encode png: %+v", err)
	}
}

func parseBboxParam(raw string) (lons, lats []float64, err error) {
	if raw == "" {
		return nil, nil, errors.New("missing required parameter")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, nil, errors.New("expected 4 comma-separated values")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return []float64{vals[0], vals[2]}, []float64{vals[1], vals[3]}, nil
}

func parseSizeParam(raw string) ([2]int, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return [2]int{}, errors.New("expected width,height")
	}
	var size [2]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 1 {
			return [2]int{}, fmt.Errorf("bad dimension %q", p)
		}
		size[i] = v
	}
	return size, nil
}
