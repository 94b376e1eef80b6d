package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/veridoc-ai/veridoc/internal/config"
)

const defaultDriveBaseURL = "https://www.googleapis.com/drive/v3"

// driveExportMime is the format Google-native documents are exported as.
const driveExportMime = "application/pdf"

// driveExportable lists the Google-native types the gateway exports to PDF.
var driveExportable = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
}

// driveBackend reads documents from a Drive-v3-compatible remote drive.
// Tokens come from the credential store (per-source) or DRIVE_API_TOKEN;
// OAuth flows happen outside this process.
type driveBackend struct {
	cfg   config.DriveConfig
	creds *CredentialStore
	log   *slog.Logger
}

func newDriveBackend(cfg config.DriveConfig, creds *CredentialStore, log *slog.Logger) *driveBackend {
	return &driveBackend{cfg: cfg, creds: creds, log: log}
}

func (b *driveBackend) baseURL() string {
	if b.cfg.BaseURL != "" {
		return strings.TrimSuffix(b.cfg.BaseURL, "/")
	}
	return defaultDriveBaseURL
}

// httpClient builds an authenticated client for the source.
func (b *driveBackend) httpClient(ctx context.Context, src *Source) (*http.Client, error) {
	token := b.cfg.APIToken
	if src.CredentialID != "" {
		if b.creds == nil {
			return nil, fmt.Errorf("drive credential store not available")
		}
		stored, err := b.creds.AccessToken(ctx, src.CredentialID)
		if err != nil {
			return nil, err
		}
		token = stored
	}
	if token == "" {
		return nil, fmt.Errorf("remote drive credentials not configured")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = b.cfg.Timeout
	return client, nil
}

type driveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	// Drive serializes int64 sizes as strings; absent for native docs.
	Size string `json:"size,omitempty"`
}

type driveListResponse struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

func (b *driveBackend) Validate(ctx context.Context, src *Source) error {
	if src.FolderID == "" && src.FilePath == "" {
		return fmt.Errorf("remote drive source requires a folder_id")
	}

	client, err := b.httpClient(ctx, src)
	if err != nil {
		return err
	}

	id := src.FolderID
	if src.IsSingleFile() {
		id = src.FilePath
	}
	if _, err := b.getFile(ctx, client, id); err != nil {
		return fmt.Errorf("remote drive source unreachable: %w", err)
	}
	return nil
}

func (b *driveBackend) Enumerate(ctx context.Context, src *Source, fn EnumerateFunc) error {
	client, err := b.httpClient(ctx, src)
	if err != nil {
		return err
	}

	if src.IsSingleFile() {
		f, err := b.getFile(ctx, client, src.FilePath)
		if err != nil {
			return err
		}
		ref, ok := driveRef(f)
		if !ok {
			return fmt.Errorf("unsupported drive file type: %s", f.MimeType)
		}
		return fn(ref)
	}

	pageToken := ""
	for {
		page, err := b.listPage(ctx, client, src.FolderID, pageToken)
		if err != nil {
			return err
		}
		for _, f := range page.Files {
			ref, ok := driveRef(&f)
			if !ok {
				continue
			}
			if err := fn(ref); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (b *driveBackend) listPage(ctx context.Context, client *http.Client, folderID, pageToken string) (*driveListResponse, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed=false", folderID))
	q.Set("fields", "nextPageToken,files(id,name,mimeType,size)")
	q.Set("pageSize", "1000")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL()+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, driveError(resp)
	}

	var page driveListResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode drive list: %w", err)
	}
	return &page, nil
}

func (b *driveBackend) getFile(ctx context.Context, client *http.Client, id string) (*driveFile, error) {
	u := fmt.Sprintf("%s/files/%s?fields=id,name,mimeType,size", b.baseURL(), url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive stat failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, driveError(resp)
	}

	var f driveFile
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode drive file: %w", err)
	}
	return &f, nil
}

func (b *driveBackend) Fetch(ctx context.Context, src *Source, sourcePath string) ([]byte, error) {
	client, err := b.httpClient(ctx, src)
	if err != nil {
		return nil, err
	}

	f, err := b.getFile(ctx, client, sourcePath)
	if err != nil {
		return nil, err
	}

	var u string
	if driveExportable[f.MimeType] {
		u = fmt.Sprintf("%s/files/%s/export?mimeType=%s",
			b.baseURL(), url.PathEscape(sourcePath), url.QueryEscape(driveExportMime))
	} else {
		u = fmt.Sprintf("%s/files/%s?alt=media", b.baseURL(), url.PathEscape(sourcePath))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, driveError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read drive file: %w", err)
	}
	return data, nil
}

// driveRef maps a drive file to a DocumentRef. Google-native documents are
// represented as their PDF export; unsupported types are skipped.
func driveRef(f *driveFile) (DocumentRef, bool) {
	if driveExportable[f.MimeType] {
		name := f.Name
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			name += ".pdf"
		}
		// Export size is unknown until fetched.
		return DocumentRef{
			SourcePath: f.ID,
			Filename:   name,
			MimeType:   driveExportMime,
		}, true
	}

	if !IsSupportedMime(f.MimeType) {
		return DocumentRef{}, false
	}

	size, _ := strconv.ParseInt(f.Size, 10, 64)
	return DocumentRef{
		SourcePath: f.ID,
		Filename:   f.Name,
		Size:       size,
		MimeType:   f.MimeType,
	}, true
}

func driveError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("drive API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
