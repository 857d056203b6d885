package bathyreq

// Blue Topo is NOAA's national bathymetry product. Its tiles are
// distributed through object storage rather than an export service, so
// retrieval needs a tile-scheme lookup that isn't built yet. NewSource
// reports ErrSourceNotImplemented for SourceBlueTopo until then.
