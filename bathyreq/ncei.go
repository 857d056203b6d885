package bathyreq

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Defaults for the NCEI exportImage operation.
const (
	nceiDefaultWidth         = 400
	nceiDefaultHeight        = 400
	nceiDefaultFormat        = "tiff"
	nceiDefaultPixelType     = "F32"
	nceiDefaultInterpolation = "RSP_NearestNeighbor"
	nceiDefaultCompression   = "LZ77"
)

// NCEIBase holds the path segments of the NCEI ArcGIS image service. See
// https://gis.ngdc.noaa.gov/arcgis/sdk/rest/ for the service layout.
type NCEIBase struct {
	Host        string
	Context     string
	Endpoint    string
	Folder      string
	ServiceName string
	ServiceType string
	Operation   string
}

// DefaultNCEIBase points at NOAA's global DEM mosaic.
func DefaultNCEIBase() NCEIBase {
	return NCEIBase{
		Host:        "https://gis.ngdc.noaa.gov",
		Context:     "arcgis",
		Endpoint:    "rest/services",
		Folder:      "DEM_mosaics",
		ServiceName: "DEM_global_mosaic",
		ServiceType: "ImageServer",
		Operation:   "exportImage",
	}
}

// BaseURL joins the non-empty segments into the operation URL.
func (b NCEIBase) BaseURL() string {
	segments := make([]string, 0, 7)
	for _, s := range []string{b.Host, b.Context, b.Endpoint, b.Folder, b.ServiceName, b.ServiceType, b.Operation} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return strings.Join(segments, "/")
}

// NCEIRequest holds the exportImage query parameters. Parameter reference:
// https://gis.ngdc.noaa.gov/arcgis/sdk/rest/#/Image_Service/02ss00000021000000/
type NCEIRequest struct {
	Bbox          orb.Bound
	Size          [2]int
	Format        string
	PixelType     string
	BboxSR        int
	ImageSR       int
	NoData        float64
	Interpolation string
	Compression   string
	RenderingRule string
}

// Encode returns the URL-encoded query string. Unset optional parameters
// are omitted; bbox coordinates are written with five decimals.
func (r NCEIRequest) Encode() string {
	v := url.Values{}
	v.Set("bbox", formatBbox(r.Bbox))
	v.Set("size", strconv.Itoa(r.Size[0])+","+strconv.Itoa(r.Size[1]))
	v.Set("format", r.Format)
	v.Set("pixelType", r.PixelType)
	if r.BboxSR != 0 {
		v.Set("bboxSR", strconv.Itoa(r.BboxSR))
	}
	if r.ImageSR != 0 {
		v.Set("imageSR", strconv.Itoa(r.ImageSR))
	}
	v.Set("nodata", strconv.FormatFloat(r.NoData, 'f', -1, 64))
	v.Set("interpolation", r.Interpolation)
	v.Set("compression", r.Compression)
	if r.RenderingRule != "" {
		v.Set("renderingRule", r.RenderingRule)
	}
	v.Set("f", "image")
	return v.Encode()
}

// NCEISource requests bathymetry from the NCEI DEM mosaic image service.
type NCEISource struct {
	Base    NCEIBase
	Request NCEIRequest
}

func NewNCEISource(bbox orb.Bound, opts *SourceOptions) *NCEISource {
	if opts == nil {
		opts = &SourceOptions{}
	}

	base := DefaultNCEIBase()
	if opts.BaseURL != "" {
		base = NCEIBase{Host: opts.BaseURL}
	}

	req := NCEIRequest{
		Bbox:          bbox,
		Size:          opts.Size,
		Format:        opts.Format,
		PixelType:     opts.PixelType,
		BboxSR:        opts.BboxSR,
		ImageSR:       opts.ImageSR,
		NoData:        opts.NoData,
		Interpolation: opts.Interpolation,
		Compression:   opts.Compression,
		RenderingRule: opts.RenderingRule,
	}
	if req.Size[0] == 0 || req.Size[1] == 0 {
		req.Size = [2]int{nceiDefaultWidth, nceiDefaultHeight}
	}
	if req.Format == "" {
		req.Format = nceiDefaultFormat
	}
	if req.PixelType == "" {
		req.PixelType = nceiDefaultPixelType
	}
	if req.Interpolation == "" {
		req.Interpolation = nceiDefaultInterpolation
	}
	if req.Compression == "" {
		req.Compression = nceiDefaultCompression
	}

	return &NCEISource{Base: base, Request: req}
}

func (s *NCEISource) URL() (string, error) {
	return s.Base.BaseURL() + "?" + s.Request.Encode(), nil
}

func (s *NCEISource) Format() string {
	return s.Request.Format
}
