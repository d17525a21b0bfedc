package storage

import (
	"context"
	"io"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/retry"
)

// Retrying decorates every Storage call with a retry policy. For Download
// only opening the stream is retried.
type Retrying struct {
	inner  Storage
	policy retry.Policy
}

var _ Storage = (*Retrying)(nil)

// WithRetry wraps s so transient failures are retried under p.
func WithRetry(s Storage, p retry.Policy) *Retrying {
	return &Retrying{inner: s, policy: p}
}

// Unwrap returns the decorated storage.
func (r *Retrying) Unwrap() Storage { return r.inner }

func (r *Retrying) ListFolders(ctx context.Context, parentID string, exclude []string) ([]Folder, error) {
	return retry.DoValue(ctx, r.policy, "storage.ListFolders", func(ctx context.Context) ([]Folder, error) {
		return r.inner.ListFolders(ctx, parentID, exclude)
	})
}

func (r *Retrying) ListFiles(ctx context.Context, parentID, mimeType string) ([]domain.Document, error) {
	return retry.DoValue(ctx, r.policy, "storage.ListFiles", func(ctx context.Context) ([]domain.Document, error) {
		return r.inner.ListFiles(ctx, parentID, mimeType)
	})
}

func (r *Retrying) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return retry.DoValue(ctx, r.policy, "storage.Download", func(ctx context.Context) (io.ReadCloser, error) {
		return r.inner.Download(ctx, fileID)
	})
}

func (r *Retrying) Move(ctx context.Context, fileID, fromParent, toParent string) error {
	return retry.Do(ctx, r.policy, "storage.Move", func(ctx context.Context) error {
		return r.inner.Move(ctx, fileID, fromParent, toParent)
	})
}

func (r *Retrying) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return retry.DoValue(ctx, r.policy, "storage.CreateFolder", func(ctx context.Context) (string, error) {
		return r.inner.CreateFolder(ctx, parentID, name)
	})
}

func (r *Retrying) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	type found struct {
		id string
		ok bool
	}
	f, err := retry.DoValue(ctx, r.policy, "storage.FindFolder", func(ctx context.Context) (found, error) {
		id, ok, err := r.inner.FindFolder(ctx, parentID, name)
		return found{id: id, ok: ok}, err
	})
	return f.id, f.ok, err
}
