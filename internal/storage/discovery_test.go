package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/retry"
	"github.com/dvloznov/budgetflow/internal/storage"
	"github.com/dvloznov/budgetflow/internal/storage/storagetest"
)

func fastPolicy(maxRetries int) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestDiscovery_CustomersExcludesOutputFolder(t *testing.T) {
	st := storagetest.New()
	st.AddFolder(storagetest.RootID, "Acme")
	st.AddFolder(storagetest.RootID, "Outputs")
	st.AddFolder(storagetest.RootID, "Globex")

	d := storage.NewDiscovery(st, storagetest.RootID, "")
	customers, err := d.Customers(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, c := range customers {
		ids = append(ids, c.ID)
		assert.NotEmpty(t, c.FolderID)
		assert.Empty(t, c.ArchiveID)
	}
	assert.ElementsMatch(t, []string{"Acme", "Globex"}, ids)
}

func TestDiscovery_ScanIsNonRecursiveAndPDFOnly(t *testing.T) {
	st := storagetest.New()
	acme := st.AddFolder(storagetest.RootID, "Acme")
	archive := st.AddFolder(acme, storage.ArchiveFolder)
	st.AddFile(acme, "may.pdf", []byte("%PDF may"))
	st.AddFile(archive, "april.pdf", []byte("%PDF april"))
	st.AddFileWithType(acme, "notes.txt", "text/plain", []byte("hi"))

	d := storage.NewDiscovery(st, storagetest.RootID, "")
	docs, err := d.Scan(context.Background(), &domain.Customer{ID: "Acme", FolderID: acme})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "may.pdf", docs[0].Name)
	assert.EqualValues(t, len("%PDF may"), docs[0].Size)
}

func TestDiscovery_RetriesTransientListFailures(t *testing.T) {
	st := storagetest.New()
	st.AddFolder(storagetest.RootID, "Acme")
	failures := 2
	st.ListFoldersErr = func(string) error {
		if failures > 0 {
			failures--
			return &googleapi.Error{Code: 503}
		}
		return nil
	}

	d := storage.NewDiscovery(storage.WithRetry(st, fastPolicy(3)), storagetest.RootID, "")
	customers, err := d.Customers(context.Background())
	require.NoError(t, err)
	assert.Len(t, customers, 1)
	assert.Equal(t, 3, st.Calls("ListFolders"))
}

func TestDiscovery_ClientErrorNotRetried(t *testing.T) {
	st := storagetest.New()
	st.ListFoldersErr = func(string) error { return &googleapi.Error{Code: 404} }

	d := storage.NewDiscovery(storage.WithRetry(st, fastPolicy(3)), storagetest.RootID, "")
	_, err := d.Customers(context.Background())
	require.Error(t, err)

	var gerr *googleapi.Error
	assert.True(t, errors.As(err, &gerr))
	assert.Equal(t, 1, st.Calls("ListFolders"))
}

func TestEnsureSubfolders(t *testing.T) {
	st := storagetest.New()
	acme := st.AddFolder(storagetest.RootID, "Acme")
	existing := st.AddFolder(acme, storage.ArchiveFolder)
	c := &domain.Customer{ID: "Acme", FolderID: acme}

	require.NoError(t, storage.EnsureSubfolders(context.Background(), st, c))
	assert.Equal(t, existing, c.ArchiveID, "existing folder reused")
	assert.Equal(t, storage.ErrorFolder, st.FolderName(c.ErrorID))
	assert.Equal(t, storage.DuplicatesFolder, st.FolderName(c.DuplicatesID))
	assert.Equal(t, 2, st.Calls("CreateFolder"))

	// Cached handles are not looked up again within the cycle.
	require.NoError(t, storage.EnsureSubfolders(context.Background(), st, c))
	assert.Equal(t, 3, st.Calls("FindFolder"))
	assert.Equal(t, 2, st.Calls("CreateFolder"))
}

func TestEnsureSubfolders_CreateFailure(t *testing.T) {
	st := storagetest.New()
	acme := st.AddFolder(storagetest.RootID, "Acme")
	st.CreateErr = func(_, name string) error {
		if name == storage.DuplicatesFolder {
			return errors.New("quota exceeded")
		}
		return nil
	}
	c := &domain.Customer{ID: "Acme", FolderID: acme}

	err := storage.EnsureSubfolders(context.Background(), st, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), storage.DuplicatesFolder)
	assert.NotEmpty(t, c.ArchiveID)
	assert.Empty(t, c.DuplicatesID)
}
