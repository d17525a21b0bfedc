package dynamodb

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budgetflow/internal/ledger"
	"github.com/dvloznov/budgetflow/internal/ledger/ledgertest"
)

// fakeAPI is an in-memory table keyed by (customer_id, record_key).
type fakeAPI struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	batchCalls int
	// unprocessedOnce makes the first BatchWriteItem call hand back its last request.
	unprocessedOnce bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	part := f.items[str(in.Key["customer_id"])]
	return &dynamodb.GetItemOutput{Item: part[str(in.Key["record_key"])]}, nil
}

func (f *fakeAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := str(in.Item["customer_id"])
	if f.items[c] == nil {
		f.items[c] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[c][str(in.Item["record_key"])] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, it := range f.items[str(in.ExpressionAttributeValues[":c"])] {
		out = append(out, it)
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, part := range f.items {
		for _, it := range part {
			out = append(out, it)
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func (f *fakeAPI) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if f.unprocessedOnce && len(reqs) > 0 {
			f.unprocessedOnce = false
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			if r.DeleteRequest == nil {
				continue
			}
			delete(f.items[str(r.DeleteRequest.Key["customer_id"])], str(r.DeleteRequest.Key["record_key"]))
		}
	}
	return out, nil
}

func TestStore(t *testing.T) {
	ledgertest.RunStoreTests(t, func(t *testing.T) ledger.Store {
		return NewWithAPI(newFakeAPI(), "")
	})
}

func TestStore_ClearBatchesAndResendsUnprocessed(t *testing.T) {
	api := newFakeAPI()
	api.unprocessedOnce = true
	s := NewWithAPI(api, "ledger")
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "acme",
			Hash:       string(rune('A' + i)),
			Outcome:    ledger.OutcomeSuccess,
		}))
	}

	n, err := s.Clear(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 30, n)
	assert.Equal(t, 3, api.batchCalls, "two chunks plus one resend")

	history, err := s.CustomerHistory(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "abc#success", recordKey("abc", ledger.OutcomeSuccess))
	assert.Equal(t, "abc#failed", recordKey("abc", ledger.OutcomeFailed))
}
