package cache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxParamsLen is the longest parameter section kept verbatim; longer ones
// are replaced by their xxhash digest.
const maxParamsLen = 160

// CacheKey identifies a cached response independently of query ordering.
type CacheKey struct {
	// Route is the logical route (e.g. "states", "flight", "aircraft").
	Route string

	// Params are the request parameters that select the response.
	Params url.Values

	// AuthMode distinguishes responses fetched under different credentials.
	AuthMode string
}

// String generates a deterministic key.
// Format: route:param1=val1&param2=val2:auth=mode
//
// Example:
//
//	states:lamax=39.9&lamin=39.7&lomax=-104.7&lomin=-104.99:auth=oauth
func (k CacheKey) String() string {
	parts := []string{strings.Trim(k.Route, "/")}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		pairs := make([]string, 0, len(names))
		for _, name := range names {
			values := append([]string(nil), k.Params[name]...)
			sort.Strings(values)
			for _, v := range values {
				pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(v))
			}
		}

		params := strings.Join(pairs, "&")
		if len(params) > maxParamsLen {
			params = "h" + strconv.FormatUint(xxhash.Sum64String(params), 16)
		}
		parts = append(parts, params)
	}

	if k.AuthMode != "" {
		parts = append(parts, "auth="+k.AuthMode)
	}

	return strings.Join(parts, ":")
}

// EntityKey builds the key for a single enrichment entity.
func EntityKey(kind, id string) string {
	return CacheKey{Route: kind, Params: url.Values{"id": {id}}}.String()
}
