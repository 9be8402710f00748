package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"

	"evalgo.org/damp/internal/cleanup"
)

// GetFile reads a single file out of a container. Files larger than
// MaxArchiveSize yield ErrArchiveTooLarge without buffering the rest.
func (m *Manager) GetFile(ctx context.Context, ref, filePath string) ([]byte, error) {
	rc, _, err := m.api.CopyFromContainer(ctx, ref, filePath)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%s in %s: %w", filePath, ref, err)
		}
		return nil, fmt.Errorf("failed to copy %s from %s: %w", filePath, ref, err)
	}
	defer cleanup.Close(m.logger, "close archive stream", rc)

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no regular file in archive for %s", filePath)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive for %s: %w", filePath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > m.opts.MaxArchiveSize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrArchiveTooLarge, filePath, hdr.Size)
		}

		data, err := io.ReadAll(io.LimitReader(tr, m.opts.MaxArchiveSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
		}
		if int64(len(data)) > m.opts.MaxArchiveSize {
			return nil, fmt.Errorf("%w: %s", ErrArchiveTooLarge, filePath)
		}
		return data, nil
	}
}

// PutFile writes content to filePath inside a container.
func (m *Manager) PutFile(ctx context.Context, ref, filePath string, content []byte, mode int64) error {
	if mode == 0 {
		mode = 0o644
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     path.Base(filePath),
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write archive header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("failed to write archive content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	err := m.api.CopyToContainer(ctx, ref, path.Dir(filePath), &buf, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: false,
	})
	if err != nil {
		if IsNotFound(err) {
			return notFound(ref, err)
		}
		return fmt.Errorf("failed to copy %s into %s: %w", filePath, ref, err)
	}
	return nil
}
