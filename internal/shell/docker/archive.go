package docker

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
)

// =============================================================================
// Build Context Archives
// =============================================================================

// BuildContext accumulates the files sent to the daemon with an image build.
// Adding a file under a name that already exists replaces it.
type BuildContext struct {
	files   map[string][]byte
	modTime time.Time
}

// NewBuildContext creates an empty build context.
func NewBuildContext() *BuildContext {
	return &BuildContext{
		files:   make(map[string][]byte),
		modTime: time.Now(),
	}
}

// Add stores data under name. Names are cleaned and made relative.
func (b *BuildContext) Add(name string, data []byte) error {
	clean, err := cleanEntryName(name)
	if err != nil {
		return err
	}
	b.files[clean] = data
	return nil
}

// AddReader reads r to the end and stores the result under name.
func (b *BuildContext) AddReader(name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading build context entry %s: %w", name, err)
	}
	return b.Add(name, data)
}

// AddFS copies every regular file of fsys into the context.
func (b *BuildContext) AddFS(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		return b.Add(p, data)
	})
}

// AddDir copies a directory tree from disk into the context.
func (b *BuildContext) AddDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("build context directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("build context %s is not a directory", dir)
	}
	return b.AddFS(os.DirFS(dir))
}

// Has reports whether the context contains name.
func (b *BuildContext) Has(name string) bool {
	clean, err := cleanEntryName(name)
	if err != nil {
		return false
	}
	_, ok := b.files[clean]
	return ok
}

// Names returns the entry names in sorted order.
func (b *BuildContext) Names() []string {
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (b *BuildContext) Len() int {
	return len(b.files)
}

// Archive renders the context as a gzip compressed tar stream.
func (b *BuildContext) Archive() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range b.Names() {
		data := b.files[name]
		header := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: b.modTime,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("writing %s to tar: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func cleanEntryName(name string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(name))[1:]
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid build context entry name %q", name)
	}
	return clean, nil
}
