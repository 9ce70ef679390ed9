package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingTransport wraps next with an RFC 7234 cache.
// Lookups send "Cache-Control: max-age=0", so a cached row is only reused after the server
// confirms it with a 304.
func NewCachingTransport(cacheDir string, next http.RoundTripper) *httpcache.Transport {
	var cache httpcache.Cache
	if cacheDir == "" {
		// Use in-memory cache if no cache directory specified
		cache = httpcache.NewMemoryCache()
	} else {
		// Use disk-based cache for persistence across runs
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = next
	transport.MarkCachedResponses = true

	return transport
}

// IsCached reports whether resp was served from the cache after revalidation.
func IsCached(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) != ""
}
