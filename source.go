package containerobjects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"sync"

	"github.com/artpar/containerobjects/internal/core/resolve"
)

// =============================================================================
// Sources
// =============================================================================

// Source is the content of a Dockerfile or of a build context entry.
type Source interface {
	String() string
	load(l *sourceLoader) ([]byte, error)
}

// sourceLoader carries what loading a Source may need.
type sourceLoader struct {
	ctx       context.Context
	client    *http.Client
	resources fs.FS
	typeName  string
}

// FileSource reads a file from disk. A Dockerfile given as a FileSource is
// built with its directory as the build context.
func FileSource(path string) Source { return fileSource{path: path} }

// URLSource fetches an http or https URL through the environment HTTP client.
func URLSource(url string) Source { return urlSource{url: url} }

// ResourceSource reads a file from the definition's Resources.
func ResourceSource(name string) Source { return resourceSource{name: name} }

// BytesSource is literal content.
func BytesSource(data []byte) Source { return bytesSource{data: data} }

// TextSource is literal text content.
func TextSource(text string) Source { return bytesSource{data: []byte(text), text: true} }

// ReaderSource reads r once, on first use. Later uses see the same content.
func ReaderSource(r io.Reader) Source { return &readerSource{r: r} }

// ParseSource interprets a location with a classpath://, file://, http:// or
// https:// prefix. Locations without a prefix are file paths.
func ParseSource(location string) Source {
	return sourceFromLocation(location, FileSource)
}

// sourceFromLocation maps a scheme prefixed string to a Source; plain strings
// are handed to fallback.
func sourceFromLocation(location string, fallback func(string) Source) Source {
	scheme, rest := resolve.SplitLocation(location)
	switch scheme {
	case resolve.SchemeClasspath:
		return ResourceSource(rest)
	case resolve.SchemeFile:
		return FileSource(rest)
	case resolve.SchemeHTTP, resolve.SchemeHTTPS:
		return URLSource(rest)
	default:
		return fallback(rest)
	}
}

type fileSource struct{ path string }

func (s fileSource) String() string { return "file://" + s.path }

func (s fileSource) load(*sourceLoader) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return data, nil
}

type urlSource struct{ url string }

func (s urlSource) String() string { return s.url }

func (s urlSource) load(l *sourceLoader) ([]byte, error) {
	req, err := http.NewRequestWithContext(l.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, configError(l.typeName, s.url, "invalid URL", err)
	}
	client := l.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", s.url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	return data, nil
}

type resourceSource struct{ name string }

func (s resourceSource) String() string { return "classpath://" + s.name }

func (s resourceSource) load(l *sourceLoader) ([]byte, error) {
	if l.resources == nil {
		return nil, configError(l.typeName, s.String(), "definition has no resources", nil)
	}
	data, err := fs.ReadFile(l.resources, path.Clean(s.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, configError(l.typeName, s.String(), "resource not found", err)
		}
		return nil, fmt.Errorf("reading resource %s: %w", s.name, err)
	}
	return data, nil
}

type bytesSource struct {
	data []byte
	text bool
}

func (s bytesSource) String() string {
	if s.text {
		return fmt.Sprintf("text(%d bytes)", len(s.data))
	}
	return fmt.Sprintf("bytes(%d)", len(s.data))
}

func (s bytesSource) load(*sourceLoader) ([]byte, error) {
	return s.data, nil
}

type readerSource struct {
	r    io.Reader
	once sync.Once
	data []byte
	err  error
}

func (s *readerSource) String() string { return "reader" }

func (s *readerSource) load(*sourceLoader) ([]byte, error) {
	s.once.Do(func() {
		var buf bytes.Buffer
		_, s.err = io.Copy(&buf, s.r)
		s.data = buf.Bytes()
	})
	return s.data, s.err
}
