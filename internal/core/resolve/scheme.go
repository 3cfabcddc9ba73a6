package resolve

import "strings"

// Scheme classifies a location string.
type Scheme string

const (
	SchemeNone      Scheme = ""
	SchemeClasspath Scheme = "classpath"
	SchemeFile      Scheme = "file"
	SchemeHTTP      Scheme = "http"
	SchemeHTTPS     Scheme = "https"
)

var schemes = []Scheme{SchemeClasspath, SchemeFile, SchemeHTTP, SchemeHTTPS}

// SplitLocation separates a recognised scheme prefix from the rest of the
// location. Strings without one of the four prefixes return SchemeNone and
// the input unchanged.
//
// Example:
//
//	SplitLocation("classpath://docker/Dockerfile") // returns SchemeClasspath, "docker/Dockerfile"
//	SplitLocation("https://example.com/x")         // returns SchemeHTTPS, "https://example.com/x"
func SplitLocation(s string) (Scheme, string) {
	for _, scheme := range schemes {
		prefix := string(scheme) + "://"
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		switch scheme {
		case SchemeHTTP, SchemeHTTPS:
			return scheme, s
		default:
			return scheme, strings.TrimPrefix(s, prefix)
		}
	}
	return SchemeNone, s
}

// IsRemote reports whether the scheme is fetched over HTTP.
func (s Scheme) IsRemote() bool {
	return s == SchemeHTTP || s == SchemeHTTPS
}
