package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// objectBackend reads documents from an object-store session prefix.
type objectBackend struct {
	svc *Service
	log *slog.Logger
}

func newObjectBackend(svc *Service, log *slog.Logger) *objectBackend {
	return &objectBackend{svc: svc, log: log}
}

func (b *objectBackend) Validate(ctx context.Context, src *Source) error {
	if !b.svc.Enabled() {
		return fmt.Errorf("object storage not configured")
	}
	if src.Prefix == "" && src.FilePath == "" {
		return fmt.Errorf("object store source requires a prefix")
	}
	if src.IsSingleFile() {
		ok, err := b.svc.Exists(ctx, src.FilePath)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("object not found: %s", src.FilePath)
		}
	}
	return nil
}

func (b *objectBackend) Enumerate(ctx context.Context, src *Source, fn EnumerateFunc) error {
	if !b.svc.Enabled() {
		return fmt.Errorf("object storage not configured")
	}

	if src.IsSingleFile() {
		size, err := b.svc.StatObject(ctx, src.FilePath)
		if err != nil {
			return err
		}
		sidecar := b.loadSidecar(ctx, path.Dir(src.FilePath))
		ref, ok := objectRef(src.FilePath, size, sidecar)
		if !ok {
			return fmt.Errorf("unsupported object type: %s", src.FilePath)
		}
		return fn(ref)
	}

	prefix := strings.TrimSuffix(src.Prefix, "/")
	sidecar := b.loadSidecar(ctx, prefix)

	return b.svc.ListObjects(ctx, prefix+"/", func(obj ObjectInfo) error {
		if strings.HasSuffix(obj.Key, "/") {
			return nil // folder marker
		}
		if path.Base(obj.Key) == SidecarFilename {
			return nil
		}
		ref, ok := objectRef(obj.Key, obj.Size, sidecar)
		if !ok {
			return nil
		}
		return fn(ref)
	})
}

// objectRef builds a DocumentRef for one stored object, restoring the
// original filename from the session sidecar when present.
func objectRef(key string, size int64, sidecar map[string]string) (DocumentRef, bool) {
	base := path.Base(key)

	filename := base
	if original, ok := sidecar[base]; ok && original != "" {
		filename = original
	}

	mime := MimeFromFilename(base)
	if mime == "" {
		mime = MimeFromFilename(filename)
	}
	if mime == "" {
		return DocumentRef{}, false
	}

	return DocumentRef{
		SourcePath: key,
		Filename:   filename,
		Size:       size,
		MimeType:   mime,
	}, true
}

// loadSidecar reads the session's .filenames.json. A missing or malformed
// sidecar degrades to opaque names, never to an error.
func (b *objectBackend) loadSidecar(ctx context.Context, prefix string) map[string]string {
	key := prefix + "/" + SidecarFilename

	data, err := b.svc.DownloadBytes(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			b.log.Warn("failed to read filename sidecar",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return map[string]string{}
	}

	return ParseSidecar(data)
}

// ParseSidecar decodes a .filenames.json payload: a JSON object mapping
// opaque object basenames to original filenames.
func ParseSidecar(data []byte) map[string]string {
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil || names == nil {
		return map[string]string{}
	}
	return names
}

func (b *objectBackend) Fetch(ctx context.Context, src *Source, sourcePath string) ([]byte, error) {
	if !b.svc.Enabled() {
		return nil, fmt.Errorf("object storage not configured")
	}
	return b.svc.DownloadBytes(ctx, sourcePath)
}
