package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key returns the deterministic cache key for an image URL.
//
// Scheme and host are lower-cased, the fragment is dropped and query
// parameters are sorted, so equivalent spellings share one entry:
//
//	https://WWW.artic.edu/iiif/2/x/full/843,/0/default.jpg?b=2&a=1
//	https://www.artic.edu/iiif/2/x/full/843,/0/default.jpg?a=1&b=2
//
// Strings that do not parse as URLs are used verbatim.
func Key(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		query := u.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			values := query[k]
			sort.Strings(values)
			for _, v := range values {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	return u.String()
}
