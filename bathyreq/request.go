package bathyreq

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
)

const (
	httpUserAgent = "go-bathyreq/1.0"

	// pointBuffer is the half-width in degrees of the box requested
	// around a single coordinate.
	pointBuffer = 0.001

	defaultTimeout   = 60 * time.Second
	defaultRetries   = 5
	defaultRetryBase = 500 * time.Millisecond
	maxRetrySleep    = 30 * time.Second
)

// ClientOptions configures a Client. The zero value requests NCEI data
// with sane HTTP defaults and no caching or metrics.
type ClientOptions struct {
	// Source selects the data provider. Defaults to SourceNCEI.
	Source SourceID

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// Retries is the number of attempts for a request; 5xx responses
	// back off exponentially between attempts.
	Retries int

	// RetryBase is the first backoff interval.
	RetryBase time.Duration

	UserAgent string
	Logger    *slog.Logger

	// Cache stores raw raster bodies keyed by request URL. Nil disables
	// caching.
	Cache Cache

	// Metrics records request counters when set.
	Metrics *Metrics

	// Clock is used for backoff sleeps; tests swap in a fake.
	Clock clockwork.Clock
}

// Client downloads bathymetric rasters from a configured source.
type Client struct {
	source     SourceID
	httpClient *http.Client
	userAgent  string
	retries    int
	retryBase  time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	cache      Cache
	metrics    *Metrics
}

// NewClient creates a bathymetry client. A nil opts is valid.
func NewClient(opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}

	c := &Client{
		source:    opts.Source,
		userAgent: opts.UserAgent,
		retries:   opts.Retries,
		retryBase: opts.RetryBase,
		clock:     opts.Clock,
		logger:    opts.Logger,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
	}
	if c.source == "" {
		c.source = SourceNCEI
	}
	if c.userAgent == "" {
		c.userAgent = httpUserAgent
	}
	if c.retries <= 0 {
		c.retries = defaultRetries
	}
	if c.retryBase <= 0 {
		c.retryBase = defaultRetryBase
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.httpClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	return c
}

// FormBbox builds a bounding box from the min/max of the given longitude
// and latitude values.
func FormBbox(longitude, latitude []float64) (orb.Bound, error) {
	if len(longitude) == 0 || len(latitude) == 0 {
		return orb.Bound{}, fmt.Errorf("empty coordinate input")
	}

	lonMin, lonMax := minMax(longitude)
	latMin, latMax := minMax(latitude)

	if lonMin < -180 || lonMax > 180 {
		return orb.Bound{}, fmt.Errorf("longitude out of range [-180, 180]: %f", lonMin)
	}
	if latMin < -90 || latMax > 90 {
		return orb.Bound{}, fmt.Errorf("latitude out of range [-90, 90]: %f", latMin)
	}

	return orb.Bound{
		Min: orb.Point{lonMin, latMin},
		Max: orb.Point{lonMax, latMax},
	}, nil
}

// PointBbox buffers a single coordinate into a small box around it.
func PointBbox(longitude, latitude float64) (orb.Bound, error) {
	if longitude < -180 || longitude > 180 {
		return orb.Bound{}, fmt.Errorf("longitude out of range [-180, 180]: %f", longitude)
	}
	if latitude < -90 || latitude > 90 {
		return orb.Bound{}, fmt.Errorf("latitude out of range [-90, 90]: %f", latitude)
	}
	return orb.Bound{
		Min: orb.Point{longitude - pointBuffer, latitude - pointBuffer},
		Max: orb.Point{longitude + pointBuffer, latitude + pointBuffer},
	}, nil
}

func minMax(vals []float64) (float64, float64) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// GetArea downloads bathymetry for the area spanned by the min/max of
// the given longitude and latitude values.
func (c *Client) GetArea(ctx context.Context, longitude, latitude []float64, opts *SourceOptions) (*Grid, error) {
	bbox, err := FormBbox(longitude, latitude)
	if err != nil {
		return nil, err
	}
	return c.getBbox(ctx, bbox, opts)
}

// GetPoint returns the interpolated depth at a single coordinate. A
// small box around the point is downloaded and sampled bilinearly.
func (c *Client) GetPoint(ctx context.Context, longitude, latitude float64, opts *SourceOptions) (float64, error) {
	bbox, err := PointBbox(longitude, latitude)
	if err != nil {
		return 0, err
	}

	pointOpts := SourceOptions{}
	if opts != nil {
		pointOpts = *opts
	}
	pointOpts.Size = [2]int{2, 2}

	grid, err := c.getBbox(ctx, bbox, &pointOpts)
	if err != nil {
		return 0, err
	}
	return grid.Interpolate(longitude, latitude)
}

func (c *Client) getBbox(ctx context.Context, bbox orb.Bound, opts *SourceOptions) (*Grid, error) {
	body, err := c.fetchBbox(ctx, bbox, opts)
	if err != nil {
		return nil, err
	}
	return DecodeRaster(body, bbox)
}

// Download streams the raw raster body for an area into w, bypassing
// decoding. Returns the number of bytes written.
func (c *Client) Download(ctx context.Context, longitude, latitude []float64, opts *SourceOptions, w io.Writer) (int64, error) {
	bbox, err := FormBbox(longitude, latitude)
	if err != nil {
		return 0, err
	}

	u, err := c.sourceURL(bbox, opts)
	if err != nil {
		return 0, err
	}

	resp, err := c.do(ctx, u)
	if err != nil {
		c.countRequest("error")
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		c.countRequest("error")
		return n, fmt.Errorf("copy raster body: %w", err)
	}
	c.countRequest("success")
	if c.metrics != nil {
		c.metrics.BytesDownloaded.Add(float64(n))
	}
	return n, nil
}

func (c *Client) sourceURL(bbox orb.Bound, opts *SourceOptions) (string, error) {
	source, err := NewSource(c.source, bbox, opts)
	if err != nil {
		return "", err
	}
	return source.URL()
}

func (c *Client) fetchBbox(ctx context.Context, bbox orb.Bound, opts *SourceOptions) ([]byte, error) {
	u, err := c.sourceURL(bbox, opts)
	if err != nil {
		return nil, err
	}

	key := cacheKey(u)
	if c.cache != nil {
		body, ok, err := c.cache.Get(key)
		if err != nil {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		if ok {
			c.countCache("hit")
			return body, nil
		}
		c.countCache("miss")
	}

	start := c.clock.Now()
	resp, err := c.do(ctx, u)
	if err != nil {
		c.countRequest("error")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countRequest("error")
		return nil, fmt.Errorf("read raster body: %w", err)
	}

	c.countRequest("success")
	if c.metrics != nil {
		c.metrics.BytesDownloaded.Add(float64(len(body)))
		c.metrics.RequestDuration.WithLabelValues(string(c.source)).Observe(c.clock.Since(start).Seconds())
	}
	c.logger.Debug("downloaded raster", "url", u, "bytes", len(body))

	if c.cache != nil {
		if err := c.cache.Put(key, body); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return body, nil
}

// do issues the GET, retrying 5xx responses with exponential backoff.
// The caller owns the response body on success.
func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	sleep := c.retryBase
	lastStatus := ""

	for attempt := 0; attempt < c.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("bathymetry request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastStatus = resp.Status

		if resp.StatusCode >= 500 && resp.StatusCode < 600 {
			c.logger.Warn("server error, retrying", "url", url, "status", resp.Status, "attempt", attempt)
			c.clock.Sleep(sleep)
			sleep *= 2
			if sleep > maxRetrySleep {
				sleep = maxRetrySleep
			}
			continue
		}

		return nil, fmt.Errorf("bathymetry request failed: %s", resp.Status)
	}

	return nil, fmt.Errorf("ran out of retries for %s: last status %s", url, lastStatus)
}

func (c *Client) countRequest(outcome string) {
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(string(c.source), outcome).Inc()
	}
}

func (c *Client) countCache(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func cacheKey(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}
