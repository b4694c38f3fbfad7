package driver

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// LocalFS implements File on the local filesystem
type LocalFS struct {
	DirPerm  os.FileMode
	FilePerm os.FileMode
}

// NewLocalFS creates a LocalFS with 0755 directories and 0644 files
func NewLocalFS() *LocalFS {
	return &LocalFS{DirPerm: 0o755, FilePerm: 0o644}
}

// MkdirAll implements File.MkdirAll
func (l *LocalFS) MkdirAll(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return interrupted("mkdir", ctx, err)
	}
	return flowerrors.FromOS("mkdir "+path, os.MkdirAll(path, l.DirPerm))
}

// Touch creates path if missing and bumps its modification time
func (l *LocalFS) Touch(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return interrupted("touch", ctx, err)
	}
	op := "touch " + path
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, l.FilePerm)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if err := f.Close(); err != nil {
		return flowerrors.FromOS(op, err)
	}
	now := time.Now()
	return flowerrors.FromOS(op, os.Chtimes(path, now, now))
}

// CreateFile implements File.CreateFile, replacing any existing content
func (l *LocalFS) CreateFile(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return interrupted("write", ctx, err)
	}
	return flowerrors.FromOS("write "+path, os.WriteFile(path, content, l.FilePerm))
}

// Copy implements File.Copy. dst is the final path, not a directory to copy into.
func (l *LocalFS) Copy(ctx context.Context, src, dst string, recursive bool) error {
	op := "copy " + src + " -> " + dst
	info, err := os.Stat(src)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if !info.IsDir() {
		return l.copyFile(ctx, op, src, dst, info.Mode().Perm())
	}
	if !recursive {
		return flowerrors.Validationf(op, "%s is a directory, use copytree", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return flowerrors.FromOS(op, err)
		}
		if err := ctx.Err(); err != nil {
			return interrupted(op, ctx, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return flowerrors.Wrap(err, flowerrors.ErrIO, op)
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return flowerrors.FromOS(op, os.MkdirAll(target, l.DirPerm))
		}
		fi, err := d.Info()
		if err != nil {
			return flowerrors.FromOS(op, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return flowerrors.FromOS(op, err)
			}
			return flowerrors.FromOS(op, os.Symlink(link, target))
		}
		return l.copyFile(ctx, op, path, target, fi.Mode().Perm())
	})
}

func (l *LocalFS) copyFile(ctx context.Context, op, src, dst string, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return interrupted(op, ctx, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return flowerrors.FromOS(op, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return flowerrors.FromOS(op, err)
	}
	return flowerrors.FromOS(op, out.Close())
}

// Move implements File.Move, falling back to copy and remove across devices
func (l *LocalFS) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return interrupted("move", ctx, err)
	}
	op := "move " + src + " -> " + dst
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return flowerrors.FromOS(op, err)
	}
	if err := l.Copy(ctx, src, dst, true); err != nil {
		return err
	}
	return flowerrors.FromOS(op, os.RemoveAll(src))
}

// Remove implements File.Remove. Removing a missing path is an error for
// single files and a no-op for trees.
func (l *LocalFS) Remove(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return interrupted("remove", ctx, err)
	}
	op := "remove " + path
	if recursive {
		return flowerrors.FromOS(op, os.RemoveAll(path))
	}
	return flowerrors.FromOS(op, os.Remove(path))
}
