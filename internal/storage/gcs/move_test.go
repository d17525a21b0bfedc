package gcs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testBucket = "statements"

// fakeBucket serves the JSON API calls Move makes: rewrite and delete.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	escaped := r.URL.EscapedPath()
	i := strings.Index(escaped, "/b/")
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	var segs []string
	for _, s := range strings.Split(escaped[i+1:], "/") {
		u, err := url.PathUnescape(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		segs = append(segs, u)
	}

	switch {
	case r.Method == http.MethodPost && len(segs) == 9 && segs[4] == "rewriteTo":
		src, dst := segs[3], segs[8]
		data, ok := f.objects[src]
		if !ok {
			writeAPIError(w, http.StatusNotFound, "No such object")
			return
		}
		if _, exists := f.objects[dst]; exists && r.URL.Query().Get("ifGenerationMatch") == "0" {
			writeAPIError(w, http.StatusPreconditionFailed, "conditionNotMet")
			return
		}
		f.objects[dst] = data
		size := strconv.Itoa(len(data))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"kind":                "storage#rewriteResponse",
			"done":                true,
			"totalBytesRewritten": size,
			"objectSize":          size,
			"resource": map[string]interface{}{
				"kind":       "storage#object",
				"bucket":     testBucket,
				"name":       dst,
				"size":       size,
				"generation": "1",
			},
		})
	case r.Method == http.MethodDelete && len(segs) == 4:
		if _, ok := f.objects[segs[3]]; !ok {
			writeAPIError(w, http.StatusNotFound, "No such object")
			return
		}
		delete(f.objects, segs[3])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": msg},
	})
}

func newFakeStore(t *testing.T, objects map[string]string) (*Store, *fakeBucket) {
	t.Helper()

	fake := &fakeBucket{objects: objects}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := gcstorage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewWithClient(client, testBucket), fake
}

func TestMove(t *testing.T) {
	store, fake := newFakeStore(t, map[string]string{
		"Acme/statement.pdf": "JUNE",
	})

	require.NoError(t, store.Move(context.Background(), "Acme/statement.pdf", "Acme/", "Acme/Archive/"))

	assert.Equal(t, map[string]string{"Acme/Archive/statement.pdf": "JUNE"}, fake.objects)
}

func TestMove_KeepsExistingArchivedFile(t *testing.T) {
	store, fake := newFakeStore(t, map[string]string{
		"Acme/statement.pdf":             "JUNE",
		"Acme/Archive/statement.pdf":     "MAY",
		"Acme/Archive/statement (1).pdf": "APRIL",
	})

	require.NoError(t, store.Move(context.Background(), "Acme/statement.pdf", "Acme/", "Acme/Archive/"))

	assert.Equal(t, map[string]string{
		"Acme/Archive/statement.pdf":     "MAY",
		"Acme/Archive/statement (1).pdf": "APRIL",
		"Acme/Archive/statement (2).pdf": "JUNE",
	}, fake.objects)
}

func TestMove_MissingSource(t *testing.T) {
	store, _ := newFakeStore(t, map[string]string{})

	err := store.Move(context.Background(), "Acme/gone.pdf", "Acme/", "Acme/Error/")
	assert.Error(t, err)
}

func TestDestinationName(t *testing.T) {
	assert.Equal(t, "statement.pdf", destinationName("statement.pdf", 0))
	assert.Equal(t, "statement (1).pdf", destinationName("statement.pdf", 1))
	assert.Equal(t, "statement (10).pdf", destinationName("statement.pdf", maxNumberedNames))
	assert.Equal(t, "notes (3)", destinationName("notes", 3))

	last := destinationName("statement.pdf", maxNumberedNames+1)
	assert.True(t, strings.HasSuffix(last, "_statement.pdf"), last)
	assert.Len(t, last, len("_statement.pdf")+8)
}
