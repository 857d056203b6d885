package bathyreq

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/paulmach/orb"

	"github.com/bathyreq/go-bathyreq/geotiff"
)

// DecodeRaster turns a response body into a Grid. GeoTIFF bodies keep
// their real elevation values and embedded bounds. Rendered imagery
// (png, jpeg) decodes to grayscale values and falls back to the
// requested bbox, since those formats carry no georeferencing.
func DecodeRaster(body []byte, requested orb.Bound) (*Grid, error) {
	if isTIFF(body) {
		return decodeGeoTIFF(body, requested)
	}
	return decodeImage(body, requested)
}

func isTIFF(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	return (b[0] == 'I' && b[1] == 'I' && b[2] == 42 && b[3] == 0) ||
		(b[0] == 'M' && b[1] == 'M' && b[2] == 0 && b[3] == 42)
}

func decodeGeoTIFF(body []byte, requested orb.Bound) (*Grid, error) {
	raster, err := geotiff.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode geotiff: %w", err)
	}

	bounds := requested
	if raster.Georeferenced {
		west, south, east, north := raster.Bounds()
		bounds = orb.Bound{
			Min: orb.Point{west, south},
			Max: orb.Point{east, north},
		}
	}

	// TIFF rows run north to south; the grid stores south-up.
	values := make([]float64, len(raster.Values))
	for row := 0; row < raster.Height; row++ {
		src := (raster.Height - 1 - row) * raster.Width
		copy(values[row*raster.Width:(row+1)*raster.Width], raster.Values[src:src+raster.Width])
	}

	grid := &Grid{
		Values: values,
		Width:  raster.Width,
		Height: raster.Height,
		Bounds: bounds,
	}
	if raster.NoData != nil {
		grid.NoData = *raster.NoData
		grid.HasNoData = true
	}
	return grid, nil
}

func decodeImage(body []byte, requested orb.Bound) (*Grid, error) {
	img, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode raster image: %w", err)
	}

	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	width := b.Dx()
	height := b.Dy()

	values := make([]float64, width*height)
	for row := 0; row < height; row++ {
		srcRow := b.Min.Y + height - 1 - row
		for col := 0; col < width; col++ {
			values[row*width+col] = float64(gray.NRGBAAt(b.Min.X+col, srcRow).R)
		}
	}

	return &Grid{
		Values: values,
		Width:  width,
		Height: height,
		Bounds: requested,
	}, nil
}
