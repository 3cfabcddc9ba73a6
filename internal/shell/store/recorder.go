package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

// =============================================================================
// Recording Gateway
// =============================================================================

// Recorder wraps a docker.Docker and writes every built image and created
// container to the ledger, releasing the entry again when the resource is
// removed. Ledger failures are logged and never fail the Docker operation.
type Recorder struct {
	docker.Docker
	store  Store
	logger *slog.Logger
}

var _ docker.Docker = (*Recorder)(nil)

// NewRecorder wraps d. A nil logger uses slog.Default.
func NewRecorder(d docker.Docker, s Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Docker: d, store: s, logger: logger.With("component", "ledger")}
}

func (r *Recorder) Images() docker.Images {
	return &recordingImages{Images: r.Docker.Images(), r: r}
}

func (r *Recorder) Containers() docker.Containers {
	return &recordingContainers{Containers: r.Docker.Containers(), r: r}
}

func (r *Recorder) record(ctx context.Context, kind Kind, ref string, labels map[string]string) {
	err := r.store.Record(ctx, Resource{
		Kind:    kind,
		Ref:     ref,
		Session: labels[docker.LabelSession],
		Object:  labels[docker.LabelObject],
	})
	if err != nil {
		r.logger.Warn("failed to record resource", "kind", kind, "ref", ref, "error", err)
	}
}

func (r *Recorder) release(ctx context.Context, kind Kind, ref string) {
	err := r.store.Release(ctx, kind, ref)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Warn("failed to release resource", "kind", kind, "ref", ref, "error", err)
	}
}

type recordingImages struct {
	docker.Images
	r *Recorder
}

// Build records every tag of the built image. Images are removed by tag, so
// the tag is the ledger reference.
func (i *recordingImages) Build(ctx context.Context, spec docker.ImageSpec) (docker.ImageID, error) {
	id, err := i.Images.Build(ctx, spec)
	if err != nil {
		return id, err
	}
	for _, tag := range spec.Tags {
		i.r.record(ctx, KindImage, string(tag), spec.Labels)
	}
	return id, nil
}

func (i *recordingImages) Remove(ctx context.Context, image docker.ImageLocator, opts docker.ImageRemoveOptions) error {
	err := i.Images.Remove(ctx, image, opts)
	if err == nil || errors.Is(err, docker.ErrImageNotFound) {
		i.r.release(ctx, KindImage, image.String())
	}
	return err
}

type recordingContainers struct {
	docker.Containers
	r *Recorder
}

func (c *recordingContainers) Create(ctx context.Context, spec docker.ContainerSpec) (docker.ContainerID, error) {
	id, err := c.Containers.Create(ctx, spec)
	if err != nil {
		return id, err
	}
	c.r.record(ctx, KindContainer, string(id), spec.Labels)
	return id, nil
}

func (c *recordingContainers) Remove(ctx context.Context, container docker.ContainerLocator, opts docker.RemoveOptions) error {
	err := c.Containers.Remove(ctx, container, opts)
	if err == nil || errors.Is(err, docker.ErrContainerNotFound) {
		c.r.release(ctx, KindContainer, container.String())
	}
	return err
}
