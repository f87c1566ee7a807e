package domcrawl

import (
	"net/url"
	"sort"
	"strings"
)

// normalizeURL canonicalizes a URL the way the visited-set requires:
// scheme+host+path+sorted-query, fragment stripped, trailing slash
// canonicalized (spec.md §4.5).
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			vals := values[k]
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, k+"="+v)
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}
	return u.String(), nil
}

// sameRegistrableHost reports whether two hosts share the same
// registrable domain (eTLD+1), ignoring a leading "www.". This is a
// plain two-label heuristic rather than a public-suffix-list lookup: no
// pack example imports golang.org/x/net/publicsuffix or an equivalent,
// and restaurant-site hosts overwhelmingly use simple gTLDs where the
// heuristic and a real PSL lookup agree.
func sameRegistrableHost(a, b string) bool {
	return registrableDomain(a) == registrableDomain(b)
}

func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
