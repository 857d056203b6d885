package bathyreq

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// SourceID identifies a bathymetric data provider.
type SourceID string

const (
	SourceNCEI     SourceID = "ncei"
	SourceGEBCO    SourceID = "gebco"
	SourceBlueTopo SourceID = "blue_topo"
)

// ErrSourceNotImplemented is returned for providers that are planned but not wired up yet.
var ErrSourceNotImplemented = errors.New("data source not implemented")

// Source builds the request URL for a single raster export.
type Source interface {
	// URL returns the fully encoded request URL.
	URL() (string, error)

	// Format reports the raster format the service was asked for,
	// e.g. "tiff" or "image/jpeg".
	Format() string
}

// SourceOptions carries the per-request knobs a source understands. The
// zero value asks each source for its defaults. Fields that don't apply
// to a given source are ignored by it.
type SourceOptions struct {
	// Size is the requested raster size as width, height in pixels.
	Size [2]int

	// BaseURL overrides the service base URL, mostly useful for
	// pointing at a mirror or a test server.
	BaseURL string

	// NCEI exportImage parameters.
	Format        string
	PixelType     string
	NoData        float64
	Interpolation string
	Compression   string
	BboxSR        int
	ImageSR       int
	RenderingRule string

	// GEBCO WMS parameters.
	Layers  string
	Version string
}

// NewSource returns a Source for the given provider covering bbox.
func NewSource(id SourceID, bbox orb.Bound, opts *SourceOptions) (Source, error) {
	if opts == nil {
		opts = &SourceOptions{}
	}

	switch id {
	case SourceNCEI:
		return NewNCEISource(bbox, opts), nil
	case SourceGEBCO:
		return NewGEBCOSource(bbox, opts), nil
	case SourceBlueTopo:
		return nil, fmt.Errorf("blue_topo: %w", ErrSourceNotImplemented)
	default:
		return nil, fmt.Errorf("unknown data source %q", id)
	}
}

func formatBbox(bbox orb.Bound) string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", bbox.Min.X(), bbox.Min.Y(), bbox.Max.X(), bbox.Max.Y())
}
