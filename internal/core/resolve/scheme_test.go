package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLocation(t *testing.T) {
	tests := []struct {
		in         string
		wantScheme Scheme
		wantRest   string
	}{
		{"classpath://docker/Dockerfile", SchemeClasspath, "docker/Dockerfile"},
		{"file:///tmp/Dockerfile", SchemeFile, "/tmp/Dockerfile"},
		{"http://example.com/Dockerfile", SchemeHTTP, "http://example.com/Dockerfile"},
		{"https://example.com/Dockerfile", SchemeHTTPS, "https://example.com/Dockerfile"},
		{"FROM alpine", SchemeNone, "FROM alpine"},
		{"ftp://example.com/x", SchemeNone, "ftp://example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			scheme, rest := SplitLocation(tt.in)
			assert.Equal(t, tt.wantScheme, scheme)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestScheme_IsRemote(t *testing.T) {
	assert.True(t, SchemeHTTP.IsRemote())
	assert.True(t, SchemeHTTPS.IsRemote())
	assert.False(t, SchemeFile.IsRemote())
	assert.False(t, SchemeNone.IsRemote())
}
