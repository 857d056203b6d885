package bathyreq

import (
	"net/url"
	"strconv"

	"github.com/paulmach/orb"
)

// Defaults for the GEBCO WMS GetMap operation.
const (
	gebcoBaseURL        = "https://www.gebco.net/data_and_products/gebco_web_services/web_map_service/mapserv"
	gebcoDefaultFormat  = "image/jpeg"
	gebcoDefaultLayers  = "gebco_latest_sub_ice_topo"
	gebcoDefaultWidth   = 1200
	gebcoDefaultHeight  = 600
	gebcoDefaultVersion = "1.3.0"
)

// GEBCORequest holds the WMS GetMap query parameters.
type GEBCORequest struct {
	Bbox    orb.Bound
	Format  string
	Layers  string
	Width   int
	Height  int
	Version string
}

// Encode returns the URL-encoded query string with the fixed GetMap
// parameters filled in.
func (r GEBCORequest) Encode() string {
	v := url.Values{}
	v.Set("BBOX", formatBbox(r.Bbox))
	v.Set("request", "getmap")
	v.Set("service", "wms")
	v.Set("crs", "EPSG:4326")
	v.Set("format", r.Format)
	v.Set("layers", r.Layers)
	v.Set("width", strconv.Itoa(r.Width))
	v.Set("height", strconv.Itoa(r.Height))
	v.Set("version", r.Version)
	return v.Encode()
}

// GEBCOSource requests rendered bathymetry from the GEBCO web map service.
// The WMS returns display imagery, not elevation-valued rasters, so grids
// decoded from it carry grayscale values.
type GEBCOSource struct {
	BaseURL string
	Request GEBCORequest
}

func NewGEBCOSource(bbox orb.Bound, opts *SourceOptions) *GEBCOSource {
	if opts == nil {
		opts = &SourceOptions{}
	}

	base := gebcoBaseURL
	if opts.BaseURL != "" {
		base = opts.BaseURL
	}

	req := GEBCORequest{
		Bbox:    bbox,
		Format:  opts.Format,
		Layers:  opts.Layers,
		Width:   opts.Size[0],
		Height:  opts.Size[1],
		Version: opts.Version,
	}
	if req.Format == "" {
		req.Format = gebcoDefaultFormat
	}
	if req.Layers == "" {
		req.Layers = gebcoDefaultLayers
	}
	if req.Width == 0 {
		req.Width = gebcoDefaultWidth
	}
	if req.Height == 0 {
		req.Height = gebcoDefaultHeight
	}
	if req.Version == "" {
		req.Version = gebcoDefaultVersion
	}

	return &GEBCOSource{BaseURL: base, Request: req}
}

func (s *GEBCOSource) URL() (string, error) {
	return s.BaseURL + "?" + s.Request.Encode(), nil
}

func (s *GEBCOSource) Format() string {
	return s.Request.Format
}
