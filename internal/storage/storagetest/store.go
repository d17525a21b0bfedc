// Package storagetest provides an in-memory storage.Storage with fault hooks.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/storage"
)

// RootID is the id of the folder every Store starts with.
const RootID = "root"

type folder struct {
	name   string
	parent string
}

type file struct {
	name     string
	parent   string
	data     []byte
	mimeType string
	created  time.Time
}

// Store is a thread-safe in-memory folder tree.
type Store struct {
	mu      sync.Mutex
	folders map[string]*folder
	files   map[string]*file
	order   []string
	nextID  int

	// Optional fault injection; a non-nil error is returned from the call.
	ListFoldersErr func(parentID string) error
	ListFilesErr   func(parentID string) error
	DownloadErr    func(fileID string) error
	MoveErr        func(fileID, toParent string) error
	CreateErr      func(parentID, name string) error

	calls map[string]int
}

var _ storage.Storage = (*Store)(nil)

// New returns a store containing only the root folder.
func New() *Store {
	return &Store{
		folders: map[string]*folder{RootID: {name: "root"}},
		files:   make(map[string]*file),
		calls:   make(map[string]int),
	}
}

func (s *Store) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// AddFolder creates a folder and returns its id.
func (s *Store) AddFolder(parentID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id("folder")
	s.folders[id] = &folder{name: name, parent: parentID}
	s.order = append(s.order, id)
	return id
}

// AddFile stores a PDF and returns its id.
func (s *Store) AddFile(parentID, name string, data []byte) string {
	return s.AddFileWithType(parentID, name, storage.MimeTypePDF, data)
}

// AddFileWithType stores a file with an explicit MIME type.
func (s *Store) AddFileWithType(parentID, name, mimeType string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id("file")
	s.files[id] = &file{name: name, parent: parentID, data: data, mimeType: mimeType, created: time.Now()}
	s.order = append(s.order, id)
	return id
}

// FileNames lists the names of files directly in folderID, sorted.
func (s *Store) FileNames(folderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, f := range s.files {
		if f.parent == folderID {
			names = append(names, f.name)
		}
	}
	sort.Strings(names)
	return names
}

// ParentOf returns the folder currently holding fileID.
func (s *Store) ParentOf(fileID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[fileID]; ok {
		return f.parent
	}
	return ""
}

// FolderName returns the name of folderID.
func (s *Store) FolderName(folderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.folders[folderID]; ok {
		return f.name
	}
	return ""
}

// Calls returns how many times the named method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Store) ListFolders(ctx context.Context, parentID string, exclude []string) ([]storage.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListFolders"]++
	if s.ListFoldersErr != nil {
		if err := s.ListFoldersErr(parentID); err != nil {
			return nil, err
		}
	}

	var out []storage.Folder
	for _, id := range s.order {
		f, ok := s.folders[id]
		if !ok || f.parent != parentID || storage.Excluded(f.name, exclude) {
			continue
		}
		out = append(out, storage.Folder{ID: id, Name: f.name})
	}
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context, parentID, mimeType string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListFiles"]++
	if s.ListFilesErr != nil {
		if err := s.ListFilesErr(parentID); err != nil {
			return nil, err
		}
	}

	var out []domain.Document
	for _, id := range s.order {
		f, ok := s.files[id]
		if !ok || f.parent != parentID || f.mimeType != mimeType {
			continue
		}
		out = append(out, domain.Document{
			ID:          id,
			Name:        f.name,
			Size:        int64(len(f.data)),
			CreatedTime: f.created,
			MimeType:    f.mimeType,
		})
	}
	return out, nil
}

func (s *Store) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Download"]++
	if s.DownloadErr != nil {
		if err := s.DownloadErr(fileID); err != nil {
			return nil, err
		}
	}

	f, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", fileID, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (s *Store) Move(ctx context.Context, fileID, fromParent, toParent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Move"]++
	if s.MoveErr != nil {
		if err := s.MoveErr(fileID, toParent); err != nil {
			return err
		}
	}

	f, ok := s.files[fileID]
	if !ok {
		return fmt.Errorf("move %s: %w", fileID, storage.ErrNotFound)
	}
	if _, ok := s.folders[toParent]; !ok {
		return fmt.Errorf("move %s to %s: %w", fileID, toParent, storage.ErrNotFound)
	}
	if f.parent != fromParent {
		return fmt.Errorf("move %s: not in folder %s", fileID, fromParent)
	}
	f.parent = toParent
	return nil
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	s.mu.Lock()
	s.calls["CreateFolder"]++
	if s.CreateErr != nil {
		if err := s.CreateErr(parentID, name); err != nil {
			s.mu.Unlock()
			return "", err
		}
	}
	s.mu.Unlock()
	return s.AddFolder(parentID, name), nil
}

func (s *Store) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindFolder"]++
	for _, id := range s.order {
		if f, ok := s.folders[id]; ok && f.parent == parentID && f.name == name {
			return id, true, nil
		}
	}
	return "", false, nil
}
