package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// folderBackend reads documents from a local filesystem directory.
type folderBackend struct {
	log *slog.Logger
}

func newFolderBackend(log *slog.Logger) *folderBackend {
	return &folderBackend{log: log}
}

func (b *folderBackend) root(src *Source) string {
	if src.IsSingleFile() {
		return src.FilePath
	}
	return src.Path
}

func (b *folderBackend) Validate(ctx context.Context, src *Source) error {
	root := b.root(src)
	if root == "" {
		return fmt.Errorf("folder source requires a path")
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("folder source unreachable: %w", err)
	}
	if src.IsSingleFile() && info.IsDir() {
		return fmt.Errorf("file_path points at a directory: %s", root)
	}
	return nil
}

func (b *folderBackend) Enumerate(ctx context.Context, src *Source, fn EnumerateFunc) error {
	root := b.root(src)
	if root == "" {
		return fmt.Errorf("folder source requires a path")
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("folder source unreachable: %w", err)
	}

	// A path naming a regular file is a single-document source.
	if !info.IsDir() {
		ref, ok := fileRef(root, info.Size())
		if !ok {
			return fmt.Errorf("unsupported file type: %s", filepath.Base(root))
		}
		return fn(ref)
	}

	allowed := allowedExtensions(src.FileTypes)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			// Hidden directories are not part of a document source.
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(name))
		if allowed != nil && !allowed[ext] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			b.log.Warn("skipping unreadable file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}

		ref, ok := fileRef(path, fi.Size())
		if !ok {
			return nil
		}
		return fn(ref)
	})
}

func fileRef(path string, size int64) (DocumentRef, bool) {
	mime := MimeFromFilename(path)
	if mime == "" {
		return DocumentRef{}, false
	}
	return DocumentRef{
		SourcePath: path,
		Filename:   filepath.Base(path),
		Size:       size,
		MimeType:   mime,
	}, true
}

func (b *folderBackend) Fetch(ctx context.Context, src *Source, sourcePath string) ([]byte, error) {
	if err := b.checkContained(src, sourcePath); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

// checkContained rejects fetches outside the source root.
func (b *folderBackend) checkContained(src *Source, sourcePath string) error {
	root, err := filepath.Abs(b.root(src))
	if err != nil {
		return fmt.Errorf("resolve source root: %w", err)
	}
	target, err := filepath.Abs(sourcePath)
	if err != nil {
		return fmt.Errorf("resolve document path: %w", err)
	}

	if src.IsSingleFile() {
		if target != root {
			return fmt.Errorf("document path outside source: %s", sourcePath)
		}
		return nil
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("document path outside source: %s", sourcePath)
	}
	return nil
}
