// Package gcs implements storage.Storage on a Cloud Storage bucket. Folders
// are object prefixes ending in "/"; the root is the empty prefix or any
// configured prefix.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/storage"
)

// uploadTimeout bounds a single Upload call.
const uploadTimeout = 2 * time.Minute

// Store keeps statements in one bucket.
type Store struct {
	client *gcstorage.Client
	bucket *gcstorage.BucketHandle
	owned  bool
}

var _ storage.Storage = (*Store)(nil)

// New creates a client for bucket. An empty credentialsFile uses
// Application Default Credentials.
func New(ctx context.Context, bucket, credentialsFile string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs.New: %w: bucket is required", domain.ErrValidation)
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs.New: create storage client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(bucket), owned: true}, nil
}

// NewWithClient uses an existing client, which the caller closes.
func NewWithClient(client *gcstorage.Client, bucket string) *Store {
	return &Store{client: client, bucket: client.Bucket(bucket)}
}

// Close releases the client if New created it.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func (s *Store) ListFolders(ctx context.Context, parentID string, exclude []string) ([]storage.Folder, error) {
	parent := asPrefix(parentID)
	it := s.bucket.Objects(ctx, &gcstorage.Query{Prefix: parent, Delimiter: "/"})

	var out []storage.Folder
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListFolders: %q: %w", parent, err)
		}
		if attrs.Prefix == "" {
			continue
		}

		name := folderName(parent, attrs.Prefix)
		if name == "" || storage.Excluded(name, exclude) {
			continue
		}
		out = append(out, storage.Folder{ID: attrs.Prefix, Name: name})
	}
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context, parentID, mimeType string) ([]domain.Document, error) {
	parent := asPrefix(parentID)
	it := s.bucket.Objects(ctx, &gcstorage.Query{Prefix: parent, Delimiter: "/"})

	var out []domain.Document
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListFiles: %q: %w", parent, err)
		}
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		if !matchesType(attrs.Name, attrs.ContentType, mimeType) {
			continue
		}

		out = append(out, domain.Document{
			ID:          attrs.Name,
			Name:        path.Base(attrs.Name),
			Size:        attrs.Size,
			CreatedTime: attrs.Created,
			MimeType:    mimeType,
		})
	}
	return out, nil
}

func (s *Store) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(fileID).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Download: open %q: %w", fileID, notFound(err))
	}
	return r, nil
}

// Move copies the object under toParent and deletes the source. An existing
// object is never overwritten: a taken name becomes "name (1).ext", then
// "name (2).ext", and finally a uuid-prefixed name.
func (s *Store) Move(ctx context.Context, fileID, fromParent, toParent string) error {
	src := s.bucket.Object(fileID)
	base := path.Base(fileID)

	var dstName string
	for n := 0; ; n++ {
		if n > maxNumberedNames+1 {
			return fmt.Errorf("Move: no free name for %q under %q", base, toParent)
		}
		dstName = asPrefix(toParent) + destinationName(base, n)
		dst := s.bucket.Object(dstName).If(gcstorage.Conditions{DoesNotExist: true})

		_, err := dst.CopierFrom(src).Run(ctx)
		if err == nil {
			break
		}
		if !preconditionFailed(err) {
			return fmt.Errorf("Move: copy %q to %q: %w", fileID, dstName, notFound(err))
		}
	}

	if err := src.Delete(ctx); err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("Move: delete %q: %w", fileID, err)
	}
	return nil
}

// maxNumberedNames bounds the "name (n).ext" candidates tried by Move.
const maxNumberedNames = 10

// destinationName returns the n-th candidate name for base.
func destinationName(base string, n int) string {
	switch {
	case n == 0:
		return base
	case n <= maxNumberedNames:
		ext := path.Ext(base)
		return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(base, ext), n, ext)
	default:
		return uuid.NewString()[:8] + "_" + base
	}
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// CreateFolder returns the child prefix. Prefixes exist implicitly once an
// object is written under them.
func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return childPrefix(parentID, name), nil
}

// FindFolder reports whether any object lives under the child prefix.
func (s *Store) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	prefix := childPrefix(parentID, name)
	it := s.bucket.Objects(ctx, &gcstorage.Query{Prefix: prefix})

	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("FindFolder: %q: %w", prefix, err)
	}
	return prefix, true, nil
}

// Upload writes a local file into folderID and returns the object name.
func (s *Store) Upload(ctx context.Context, folderID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("Upload: open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	objectName := asPrefix(folderID) + filepath.Base(localPath)
	w := s.bucket.Object(objectName).NewWriter(ctx)
	w.ContentType = contentType(localPath)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy file to writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize upload: %w", err)
	}
	return objectName, nil
}

// asPrefix normalises a folder id to "" or a string ending in "/".
func asPrefix(id string) string {
	id = strings.TrimPrefix(id, "/")
	if id == "" || strings.HasSuffix(id, "/") {
		return id
	}
	return id + "/"
}

func childPrefix(parentID, name string) string {
	return asPrefix(parentID) + strings.Trim(name, "/") + "/"
}

// folderName extracts the last path segment of a child prefix.
func folderName(parent, prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(prefix, parent), "/")
}

func matchesType(name, contentType, want string) bool {
	if contentType != "" {
		return strings.EqualFold(strings.TrimSpace(strings.Split(contentType, ";")[0]), want)
	}
	return want == storage.MimeTypePDF && strings.EqualFold(path.Ext(name), ".pdf")
}

func contentType(localPath string) string {
	if strings.EqualFold(filepath.Ext(localPath), ".pdf") {
		return storage.MimeTypePDF
	}
	return "application/octet-stream"
}

func notFound(err error) error {
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	}
	return err
}
