// Package storage defines the cloud-storage collaborator and the work
// discovery built on top of it.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/dvloznov/budgetflow/internal/domain"
)

// MIME types understood by the backends.
const (
	MimeTypePDF    = "application/pdf"
	MimeTypeFolder = "application/vnd.google-apps.folder"
)

// ErrNotFound is returned when a file or folder does not exist.
var ErrNotFound = errors.New("storage: not found")

// Folder is a child folder returned by ListFolders.
type Folder struct {
	ID   string
	Name string
}

// Storage is the folder/file store customers drop statements into.
type Storage interface {
	// ListFolders lists direct child folders of parentID, skipping excluded names.
	ListFolders(ctx context.Context, parentID string, exclude []string) ([]Folder, error)
	// ListFiles lists direct child files of parentID with the given MIME type.
	ListFiles(ctx context.Context, parentID, mimeType string) ([]domain.Document, error)
	// Download opens the file's content. The caller closes the reader.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	// Move re-parents a file from one folder to another.
	Move(ctx context.Context, fileID, fromParent, toParent string) error
	// CreateFolder creates a child folder and returns its id.
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	// FindFolder looks up a child folder by exact name.
	FindFolder(ctx context.Context, parentID, name string) (string, bool, error)
}

// Excluded reports whether name is in the exclude list. Backends share it.
func Excluded(name string, exclude []string) bool {
	for _, e := range exclude {
		if e == name {
			return true
		}
	}
	return false
}
