package docker

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/docker/docker/api/types/container"

	"evalgo.org/damp/internal/cleanup"
	"evalgo.org/damp/models"
)

const syncMount = "/data"

// SyncOptions configures folder and volume synchronization.
type SyncOptions struct {
	// Exclude lists directory names skipped at any depth.
	Exclude   []string
	ProjectID string
}

// SyncFolderToVolume copies the tree at src into the root of a named
// volume through a helper container. Progress is reported per file.
// Cancelling ctx abandons the copy; files already written stay.
func (m *Manager) SyncFolderToVolume(ctx context.Context, src, volumeName string, opts SyncOptions, sink models.ProgressSink) error {
	sink = models.SinkOrDiscard(sink)
	report := func(stage string, step, total int, msg string) {
		p := models.NewProgress(stage, step, total, msg)
		p.Operation = "sync-to-volume"
		sink.Report(p)
	}

	report("preparing", 0, 1, volumeName)
	files, err := countFiles(src, opts.Exclude)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", src, err)
	}

	if err := m.PullImage(ctx, m.opts.HelperImage, nil); err != nil {
		return err
	}
	id, err := m.createHelper(ctx, HelperOptions{
		Image:     m.opts.HelperImage,
		Binds:     []string{volumeName + ":" + syncMount},
		ProjectID: opts.ProjectID,
	})
	if err != nil {
		return err
	}
	defer m.removeHelper(ctx, id)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(m.writeTree(ctx, pw, src, opts.Exclude, func(done int, name string) {
			report("copying", done, files, name)
		}))
	}()

	err = m.api.CopyToContainer(ctx, id, syncMount, pr, container.CopyToContainerOptions{})
	_ = pr.Close()
	if err != nil {
		return fmt.Errorf("failed to copy %s into volume %s: %w", src, volumeName, err)
	}

	report("done", files, files, volumeName)
	return nil
}

// SyncVolumeToFolder copies the contents of a named volume into dst.
func (m *Manager) SyncVolumeToFolder(ctx context.Context, volumeName, dst string, opts SyncOptions, sink models.ProgressSink) error {
	sink = models.SinkOrDiscard(sink)
	report := func(stage string, step, total int, msg string) {
		p := models.NewProgress(stage, step, total, msg)
		p.Operation = "sync-to-folder"
		sink.Report(p)
	}

	report("preparing", 0, 1, volumeName)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if err := m.PullImage(ctx, m.opts.HelperImage, nil); err != nil {
		return err
	}
	id, err := m.createHelper(ctx, HelperOptions{
		Image:     m.opts.HelperImage,
		Binds:     []string{volumeName + ":" + syncMount},
		ProjectID: opts.ProjectID,
	})
	if err != nil {
		return err
	}
	defer m.removeHelper(ctx, id)

	rc, _, err := m.api.CopyFromContainer(ctx, id, syncMount)
	if err != nil {
		return fmt.Errorf("failed to read volume %s: %w", volumeName, err)
	}
	defer cleanup.Close(m.logger, "close volume archive", rc)

	n, err := extractTree(ctx, rc, dst, opts.Exclude, func(done int, name string) {
		report("extracting", done, 0, name)
	})
	if err != nil {
		return fmt.Errorf("failed to extract volume %s: %w", volumeName, err)
	}

	report("done", n, n, volumeName)
	return nil
}

func excluded(rel string, exclude []string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if slices.Contains(exclude, part) {
			return true
		}
	}
	return false
}

func countFiles(root string, exclude []string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		if rel != "." && excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	return n, err
}

func (m *Manager) writeTree(ctx context.Context, w io.Writer, root string, exclude []string, progress func(done int, name string)) error {
	tw := tar.NewWriter(w)
	done := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		if excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = m.opts.HelperUID, m.opts.HelperGID
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			_ = f.Close()
			if err != nil {
				return err
			}
		}
		if !d.IsDir() {
			done++
			progress(done, hdr.Name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// extractTree unpacks an archive rooted at the volume mount name into dst.
// Symlinks are created after every other entry, and no entry may be written
// through a link that leads outside dst.
func extractTree(ctx context.Context, r io.Reader, dst string, exclude []string, progress func(done int, name string)) (int, error) {
	root := filepath.Clean(dst)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return 0, err
	}
	tr := tar.NewReader(r)
	done := 0

	type link struct{ target, name, rel string }
	var links []link

	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return done, err
		}

		// The archive root is named after the mount; strip it.
		_, rel, found := strings.Cut(strings.TrimPrefix(hdr.Name, "./"), "/")
		if !found || rel == "" {
			continue
		}
		if excluded(rel, exclude) {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return done, fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return done, err
			}
			if err := inside(realRoot, target, hdr.Name); err != nil {
				return done, err
			}
		case tar.TypeReg:
			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return done, err
			}
			if err := inside(realRoot, dir, hdr.Name); err != nil {
				return done, err
			}
			if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
				if err := os.Remove(target); err != nil {
					return done, err
				}
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return done, err
			}
			_, err = io.Copy(f, tr)
			_ = f.Close()
			if err != nil {
				return done, err
			}
			done++
			progress(done, rel)
		case tar.TypeSymlink:
			links = append(links, link{target: target, name: hdr.Linkname, rel: rel})
		}
	}

	for _, l := range links {
		if err := os.MkdirAll(filepath.Dir(l.target), 0o755); err != nil {
			return done, err
		}
		if err := inside(realRoot, filepath.Dir(l.target), l.rel); err != nil {
			return done, err
		}
		if fi, err := os.Lstat(l.target); err == nil {
			if fi.IsDir() {
				return done, fmt.Errorf("archive symlink %q replaces a directory", l.rel)
			}
			if err := os.Remove(l.target); err != nil {
				return done, err
			}
		}
		if err := os.Symlink(l.name, l.target); err != nil {
			return done, err
		}
		done++
		progress(done, l.rel)
	}
	return done, nil
}

// inside reports an error when path, with links resolved, is not realRoot or
// below it.
func inside(realRoot, path, entry string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}
	if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes destination", entry)
	}
	return nil
}
