package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// SourceType tags the variant of a job source.
type SourceType string

const (
	SourceFolder      SourceType = "folder"
	SourceObjectStore SourceType = "object_store"
	SourceRemoteDrive SourceType = "remote_drive"
)

// Source is a job's parsed source_config.
type Source struct {
	Type SourceType `json:"type"`

	// Folder sources
	Path      string   `json:"path,omitempty"`
	FileTypes []string `json:"file_types,omitempty"`

	// Object-store sources: the session prefix under the bucket
	Prefix string `json:"prefix,omitempty"`

	// Remote-drive sources
	Provider     string `json:"provider,omitempty"`
	FolderID     string `json:"folder_id,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`

	// FilePath narrows the source to a single document: an absolute path
	// for folders, an object key for object stores, a file id for remote
	// drives. Discovery short-circuits when it is set.
	FilePath string `json:"file_path,omitempty"`
}

// ParseSource decodes and validates a raw source_config.
func ParseSource(raw json.RawMessage) (*Source, error) {
	if len(raw) == 0 {
		return nil, errors.New("source config is empty")
	}

	var src Source
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}

	switch src.Type {
	case SourceFolder:
		if src.Path == "" && src.FilePath == "" {
			return nil, errors.New("folder source requires a path")
		}
	case SourceObjectStore:
		if src.Prefix == "" && src.FilePath == "" {
			return nil, errors.New("object store source requires a prefix")
		}
	case SourceRemoteDrive:
		if src.FolderID == "" && src.FilePath == "" {
			return nil, errors.New("remote drive source requires a folder_id")
		}
	case "":
		return nil, errors.New("source config is missing a type")
	default:
		return nil, fmt.Errorf("unknown source type: %s", src.Type)
	}

	return &src, nil
}

// IsSingleFile reports whether the source names exactly one document.
func (s *Source) IsSingleFile() bool {
	return s.FilePath != ""
}

// DocumentRef describes one discoverable document in a source.
type DocumentRef struct {
	// SourcePath locates the document for Fetch. Opaque to the pipeline.
	SourcePath string
	// Filename is the user-facing name, sidecar-restored where available.
	Filename string
	Size     int64
	MimeType string
}

// EnumerateFunc receives each discovered document. Returning
// ErrStopEnumeration halts the walk without error.
type EnumerateFunc func(DocumentRef) error

// ErrStopEnumeration stops Enumerate early from a callback.
var ErrStopEnumeration = errors.New("stop enumeration")

// SourceGateway reads job sources uniformly across the three variants.
type SourceGateway interface {
	Validate(ctx context.Context, src *Source) error
	Count(ctx context.Context, src *Source, limit int) (int, error)
	Enumerate(ctx context.Context, src *Source, fn EnumerateFunc) error
	Fetch(ctx context.Context, src *Source, sourcePath string) ([]byte, error)
}

type sourceBackend interface {
	Validate(ctx context.Context, src *Source) error
	Enumerate(ctx context.Context, src *Source, fn EnumerateFunc) error
	Fetch(ctx context.Context, src *Source, sourcePath string) ([]byte, error)
}

// Gateway dispatches gateway operations to the backend matching the source
// type.
type Gateway struct {
	folder  *folderBackend
	objects *objectBackend
	drive   *driveBackend
	log     *slog.Logger
}

var _ SourceGateway = (*Gateway)(nil)

// NewGateway creates the source gateway over all three backends.
func NewGateway(cfg *config.Config, svc *Service, creds *CredentialStore, log *slog.Logger) *Gateway {
	scoped := log.With(logger.Scope("gateway"))
	return &Gateway{
		folder:  newFolderBackend(scoped),
		objects: newObjectBackend(svc, scoped),
		drive:   newDriveBackend(cfg.Drive, creds, scoped),
		log:     scoped,
	}
}

func (g *Gateway) backend(src *Source) (sourceBackend, error) {
	if src == nil {
		return nil, errors.New("source is nil")
	}
	switch src.Type {
	case SourceFolder:
		return g.folder, nil
	case SourceObjectStore:
		return g.objects, nil
	case SourceRemoteDrive:
		return g.drive, nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", src.Type)
	}
}

// Validate checks that the source is reachable and well formed.
func (g *Gateway) Validate(ctx context.Context, src *Source) error {
	b, err := g.backend(src)
	if err != nil {
		return err
	}
	return b.Validate(ctx, src)
}

// Count returns the number of discoverable documents, stopping at limit
// when limit > 0.
func (g *Gateway) Count(ctx context.Context, src *Source, limit int) (int, error) {
	b, err := g.backend(src)
	if err != nil {
		return 0, err
	}

	n := 0
	err = b.Enumerate(ctx, src, func(DocumentRef) error {
		n++
		if limit > 0 && n >= limit {
			return ErrStopEnumeration
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopEnumeration) {
		return 0, err
	}
	return n, nil
}

// Enumerate walks the source lazily, invoking fn per document.
// ErrStopEnumeration from fn terminates the walk cleanly.
func (g *Gateway) Enumerate(ctx context.Context, src *Source, fn EnumerateFunc) error {
	b, err := g.backend(src)
	if err != nil {
		return err
	}
	if err := b.Enumerate(ctx, src, fn); err != nil && !errors.Is(err, ErrStopEnumeration) {
		return err
	}
	return nil
}

// Fetch reads one document's bytes.
func (g *Gateway) Fetch(ctx context.Context, src *Source, sourcePath string) ([]byte, error) {
	b, err := g.backend(src)
	if err != nil {
		return nil, err
	}
	return b.Fetch(ctx, src, sourcePath)
}

// Supported document mimes. Everything else is skipped during enumeration.
var mimeByExt = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// MimeFromFilename maps a filename extension to its document mime type.
// Unsupported extensions return "".
func MimeFromFilename(name string) string {
	return mimeByExt[strings.ToLower(filepath.Ext(name))]
}

// IsSupportedMime reports whether the pipeline can process the mime type.
func IsSupportedMime(mime string) bool {
	for _, m := range mimeByExt {
		if m == mime {
			return true
		}
	}
	return false
}

// IsPDF reports whether the mime type needs rasterization before vision
// calls. Image mimes are sent to the model as a single page.
func IsPDF(mime string) bool {
	return mime == "application/pdf"
}

// allowedExtensions normalizes a source's file_types filter into a set of
// dotted lowercase extensions. An empty filter admits every supported type.
func allowedExtensions(fileTypes []string) map[string]bool {
	if len(fileTypes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(fileTypes))
	for _, ft := range fileTypes {
		ext := strings.ToLower(strings.TrimSpace(ft))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
