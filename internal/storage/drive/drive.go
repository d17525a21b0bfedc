// Package drive implements storage.Storage on Google Drive v3.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/storage"
)

const listFields = "nextPageToken, files(id, name, mimeType, size, createdTime)"

// Store talks to one Drive account.
type Store struct {
	svc *drive.Service
}

var _ storage.Storage = (*Store)(nil)

// New creates a Drive client. An empty credentialsFile falls back to
// Application Default Credentials.
func New(ctx context.Context, credentialsFile string) (*Store, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive.New: create service: %w", err)
	}
	return &Store{svc: svc}, nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *drive.Service) *Store {
	return &Store{svc: svc}
}

func (s *Store) ListFolders(ctx context.Context, parentID string, exclude []string) ([]storage.Folder, error) {
	q := childQuery(parentID, storage.MimeTypeFolder)

	var out []storage.Folder
	err := s.svc.Files.List().
		Q(q).
		Fields(listFields).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if storage.Excluded(f.Name, exclude) {
					continue
				}
				out = append(out, storage.Folder{ID: f.Id, Name: f.Name})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("ListFolders: %w", err)
	}
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context, parentID, mimeType string) ([]domain.Document, error) {
	q := childQuery(parentID, mimeType)

	var out []domain.Document
	err := s.svc.Files.List().
		Q(q).
		Fields(listFields).
		OrderBy("createdTime").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, toDocument(f))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("ListFiles: %w", err)
	}
	return out, nil
}

func (s *Store) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := s.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("Download: %s: %w", fileID, notFound(err))
	}
	return resp.Body, nil
}

func (s *Store) Move(ctx context.Context, fileID, fromParent, toParent string) error {
	_, err := s.svc.Files.Update(fileID, &drive.File{}).
		AddParents(toParent).
		RemoveParents(fromParent).
		SupportsAllDrives(true).
		Fields("id, parents").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("Move: %s to %s: %w", fileID, toParent, notFound(err))
	}
	return nil
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	f, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: storage.MimeTypeFolder,
		Parents:  []string{parentID},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("CreateFolder: %q: %w", name, err)
	}
	return f.Id, nil
}

func (s *Store) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	q := childQuery(parentID, storage.MimeTypeFolder) + fmt.Sprintf(" and name = '%s'", escape(name))

	res, err := s.svc.Files.List().
		Q(q).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, fmt.Errorf("FindFolder: %q: %w", name, err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

// childQuery selects non-trashed direct children of parentID with mimeType.
func childQuery(parentID, mimeType string) string {
	return fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", escape(parentID), escape(mimeType))
}

// escape quotes a value for a Drive query string literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toDocument(f *drive.File) domain.Document {
	doc := domain.Document{
		ID:       f.Id,
		Name:     f.Name,
		Size:     f.Size,
		MimeType: f.MimeType,
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		doc.CreatedTime = t
	}
	return doc
}

func notFound(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	}
	return err
}
