package config

import (
	"sort"
	"strings"
)

// AllowedOrigins is the set of browser origins allowed to call the /api routes.
type AllowedOrigins map[string]struct{}
type nullValue = struct{}

// NewAllowedOrigins builds the origin set; "*" allows any origin without credentials.
func NewAllowedOrigins(origins ...string) AllowedOrigins {
	a := make(AllowedOrigins, len(origins))
	for _, o := range origins {
		a[o] = nullValue{}
	}
	return a
}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	sort.Strings(origins)
	return strings.Join(origins, ", ")
}

const (
	AllowedMethods = "GET, POST, OPTIONS"
	AllowedHeaders = "Content-Type, Authorization"
)
