package bathyreq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAll(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(grayPNG(t, 2, 2, 30))
	}))
	defer srv.Close()

	clientOpts, sourceOpts := testClientOptions(srv.URL)
	c := NewClient(clientOpts)

	requests := []AreaRequest{
		{Longitude: []float64{-117.43, -117.23}, Latitude: []float64{32.55, 32.75}, Options: sourceOpts},
		{Longitude: []float64{-300}, Latitude: []float64{32.65}, Options: sourceOpts},
		{Longitude: []float64{-118.0, -117.9}, Latitude: []float64{33.0, 33.1}, Options: sourceOpts},
	}

	results := FetchAll(context.Background(), c, requests, 2)
	require.Len(t, results, 3)

	// Results come back in request order regardless of which worker
	// finished first.
	for i, result := range results {
		assert.Equal(t, i, result.Index)
	}

	require.NoError(t, results[0].Err)
	assert.Equal(t, 30.0, results[0].Grid.Values[0])

	// The bad coordinate fails alone without aborting its neighbors.
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Grid)

	require.NoError(t, results[2].Err)
	assert.Equal(t, 2, results[2].Grid.Width)

	assert.Equal(t, int64(2), hits.Load())
}

func TestFetchAll_Empty(t *testing.T) {
	c := NewClient(nil)
	results := FetchAll(context.Background(), c, nil, 4)
	assert.Empty(t, results)
}

func TestFetchAll_MoreWorkersThanRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(grayPNG(t, 2, 2, 5))
	}))
	defer srv.Close()

	clientOpts, sourceOpts := testClientOptions(srv.URL)
	c := NewClient(clientOpts)

	requests := []AreaRequest{
		{Longitude: []float64{-117.43, -117.23}, Latitude: []float64{32.55, 32.75}, Options: sourceOpts},
	}
	results := FetchAll(context.Background(), c, requests, 16)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
}
