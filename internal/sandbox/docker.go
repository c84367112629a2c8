package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"
)

// Docker talks to the engine API for the work the CLI cannot do for a PTY
// client: image preflight and removing containers whose client died.
type Docker struct {
	cli    *client.Client
	logger zerolog.Logger
}

func NewDocker(logger zerolog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Docker{cli: cli, logger: logger.With().Str("component", "docker").Logger()}, nil
}

// Ping checks that the engine is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// RemoveContainer force-removes a container. A missing container is not an
// error: with --rm it is usually gone already.
func (d *Docker) RemoveContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("removing container %s: %w", name, err)
}

// EnsureImage pulls img unless it is present locally.
func (d *Docker) EnsureImage(ctx context.Context, img string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	d.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is consumed.
	_, _ = io.Copy(io.Discard, reader)

	d.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}

// EnsureImages pulls every missing image and reports all failures.
func (d *Docker) EnsureImages(ctx context.Context, images []string) error {
	var errs []error
	for _, img := range images {
		if err := d.EnsureImage(ctx, img); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Docker) Close() error {
	return d.cli.Close()
}
