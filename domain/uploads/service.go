package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

const (
	// MaxUploadFiles is the maximum number of files in one upload request.
	MaxUploadFiles = 500
	// MaxFileSize is the per-file upload limit (100MB).
	MaxFileSize = 100 * 1024 * 1024
	// uploadConcurrency bounds parallel object puts per request.
	uploadConcurrency = 4
)

// UploadedFile describes one file after an upload attempt.
type UploadedFile struct {
	OriginalName string `json:"original_name"`
	StoredName   string `json:"stored_name,omitempty"`
	ObjectKey    string `json:"object_key,omitempty"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// UploadResult is the POST /upload-files response: the session the files
// landed in plus per-file outcomes.
type UploadResult struct {
	SessionID string         `json:"session_id"`
	Uploaded  int            `json:"uploaded"`
	Failed    int            `json:"failed"`
	Files     []UploadedFile `json:"files"`
}

// CreateJobWithFilesRequest is the POST /create-job-with-files body.
type CreateJobWithFilesRequest struct {
	JobName      string `json:"jobName"`
	UploadPath   string `json:"uploadPath,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
}

// Service stores uploaded documents in an object-store session and turns
// sessions into bulk jobs.
type Service struct {
	storage *storage.Service
	jobs    *bulkjobs.Service
	log     *slog.Logger
}

// NewService creates a new uploads service
func NewService(storageSvc *storage.Service, jobs *bulkjobs.Service, log *slog.Logger) *Service {
	return &Service{
		storage: storageSvc,
		jobs:    jobs,
		log:     log.With(logger.Scope("uploads")),
	}
}

// UploadFiles stores every file under the session prefix and merges the
// original names into the session's filename sidecar. A fresh session id
// is minted when the caller does not supply one. Per-file failures do not
// fail the request.
func (s *Service) UploadFiles(ctx context.Context, sessionID string, files []*multipart.FileHeader) (*UploadResult, error) {
	if !s.storage.Enabled() {
		return nil, apperror.New(503, "storage_unavailable", "Storage service is not configured")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	results := make([]UploadedFile, len(files))
	var wg sync.WaitGroup
	sem := make(chan struct{}, uploadConcurrency)
	for i, fh := range files {
		wg.Add(1)
		go func(idx int, fh *multipart.FileHeader) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = s.uploadOne(ctx, sessionID, fh)
		}(i, fh)
	}
	wg.Wait()

	result := &UploadResult{SessionID: sessionID, Files: results}
	names := map[string]string{}
	for _, f := range results {
		if f.Status == "uploaded" {
			result.Uploaded++
			names[f.StoredName] = f.OriginalName
		} else {
			result.Failed++
		}
	}

	if len(names) > 0 {
		if err := s.mergeSidecar(ctx, sessionID, names); err != nil {
			// Objects are stored; enumeration degrades to opaque names.
			s.log.Warn("failed to write filename sidecar",
				slog.String("session_id", sessionID),
				logger.Error(err),
			)
		}
	}

	s.log.Info("upload session updated",
		slog.String("session_id", sessionID),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) uploadOne(ctx context.Context, sessionID string, fh *multipart.FileHeader) UploadedFile {
	name := fh.Filename
	if name == "" {
		name = "upload"
	}
	out := UploadedFile{OriginalName: name, Size: fh.Size, Status: "failed"}

	if fh.Size > MaxFileSize {
		out.Error = "file size exceeds maximum of 100MB"
		return out
	}
	mime := storage.MimeFromFilename(name)
	if mime == "" {
		out.Error = "unsupported file type"
		return out
	}

	src, err := fh.Open()
	if err != nil {
		out.Error = "failed to read file"
		return out
	}
	defer src.Close()

	key := storage.GenerateObjectKey(sessionID, name)
	if _, err := s.storage.Upload(ctx, key, src, fh.Size, storage.UploadOptions{ContentType: mime}); err != nil {
		s.log.Error("failed to store uploaded file",
			slog.String("session_id", sessionID),
			slog.String("filename", name),
			logger.Error(err),
		)
		out.Error = "failed to store file"
		return out
	}

	out.Status = "uploaded"
	out.StoredName = path.Base(key)
	out.ObjectKey = key
	out.MimeType = mime
	return out
}

// mergeSidecar folds the new stored-name→original-name pairs into the
// session's .filenames.json so repeated uploads into one session keep
// every original name.
func (s *Service) mergeSidecar(ctx context.Context, sessionID string, names map[string]string) error {
	key := sessionID + "/" + storage.SidecarFilename

	existing := map[string]string{}
	if data, err := s.storage.DownloadBytes(ctx, key); err == nil {
		existing = storage.ParseSidecar(data)
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("read sidecar: %w", err)
	}

	for stored, original := range names {
		existing[stored] = original
	}
	payload, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	_, err = s.storage.Upload(ctx, key, strings.NewReader(string(payload)), int64(len(payload)),
		storage.UploadOptions{ContentType: "application/json"})
	return err
}

// CreateJobWithFiles creates a pending object-store job over an upload
// session. Starting the job is a separate call; start skips discovery
// when the documents are already registered.
func (s *Service) CreateJobWithFiles(ctx context.Context, req CreateJobWithFilesRequest) (*bulkjobs.BulkJob, error) {
	if strings.TrimSpace(req.JobName) == "" {
		return nil, apperror.ErrBadRequest.WithMessage("jobName is required")
	}
	prefix := sessionPrefix(req.SessionID, req.UploadPath)
	if prefix == "" {
		return nil, apperror.ErrBadRequest.WithMessage("sessionId or uploadPath is required")
	}

	source, err := json.Marshal(storage.Source{Type: storage.SourceObjectStore, Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}

	job, err := s.jobs.Create(ctx, bulkjobs.CreateJobRequest{
		Name:         req.JobName,
		SourceType:   string(storage.SourceObjectStore),
		SourceConfig: source,
		ProcessingOptions: bulkjobs.ProcessingOptions{
			DocumentType: req.DocumentType,
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("job created from upload session",
		slog.String("bulk_job_id", job.ID),
		slog.String("session_id", prefix))
	return job, nil
}

// sessionPrefix resolves the object prefix for a job: the session id when
// given, else the upload path with any bucket-style slashes trimmed.
func sessionPrefix(sessionID, uploadPath string) string {
	if id := strings.TrimSpace(sessionID); id != "" {
		return strings.Trim(id, "/")
	}
	return strings.Trim(strings.TrimSpace(uploadPath), "/")
}
