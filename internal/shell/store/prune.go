package store

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/containerobjects/internal/shell/docker"
)

// pruneConcurrency bounds parallel Docker removals during a prune.
const pruneConcurrency = 4

// PruneResult summarizes a prune run.
type PruneResult struct {
	Removed []Resource
	Kept    []Resource
	Failed  []Resource
}

// Prune removes outstanding ledger resources. Containers go first and are
// force-removed; images are removed afterwards without force so images still
// used by foreign containers are kept. Resources that no longer exist are
// released.
func Prune(ctx context.Context, s Store, d docker.Docker, opts ListOptions, logger *slog.Logger) (*PruneResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	result := &PruneResult{}

	for _, kind := range []Kind{KindContainer, KindImage} {
		if opts.Kind != "" && opts.Kind != kind {
			continue
		}
		resources, err := s.Outstanding(ctx, ListOptions{Kind: kind, Session: opts.Session})
		if err != nil {
			return result, err
		}

		outcomes := make([]pruneOutcome, len(resources))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(pruneConcurrency)
		for i, res := range resources {
			g.Go(func() error {
				outcomes[i] = pruneOne(gctx, s, d, res, logger)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}

		for i, res := range resources {
			switch outcomes[i] {
			case pruneRemoved:
				result.Removed = append(result.Removed, res)
			case pruneKept:
				result.Kept = append(result.Kept, res)
			default:
				result.Failed = append(result.Failed, res)
			}
		}
	}
	return result, nil
}

type pruneOutcome int

const (
	pruneFailed pruneOutcome = iota
	pruneRemoved
	pruneKept
)

func pruneOne(ctx context.Context, s Store, d docker.Docker, res Resource, logger *slog.Logger) pruneOutcome {
	var err error
	switch res.Kind {
	case KindContainer:
		err = d.Containers().Remove(ctx, docker.ContainerID(res.Ref), docker.RemoveOptions{Force: true, RemoveVolumes: true})
		if errors.Is(err, docker.ErrContainerNotFound) {
			err = nil
		}
	case KindImage:
		err = d.Images().Remove(ctx, docker.ImageName(res.Ref), docker.ImageRemoveOptions{})
		if errors.Is(err, docker.ErrImageNotFound) {
			err = nil
		}
		if errors.Is(err, docker.ErrImageInUse) {
			logger.Warn("image still in use, keeping", "ref", res.Ref)
			return pruneKept
		}
	default:
		err = NewStoreError("Prune", string(res.Kind), res.Ref, "unknown kind", ErrInvalidKind)
	}
	if err != nil {
		logger.Error("failed to remove resource", "kind", res.Kind, "ref", res.Ref, "error", err)
		return pruneFailed
	}

	if err := s.Release(ctx, res.Kind, res.Ref); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("failed to release resource", "kind", res.Kind, "ref", res.Ref, "error", err)
	}
	logger.Info("removed resource", "kind", res.Kind, "ref", res.Ref, "session", res.Session)
	return pruneRemoved
}
