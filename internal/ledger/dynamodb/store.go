// Package dynamodb stores the ledger in a DynamoDB table with customer_id as
// the partition key and "hash#outcome" as the sort key.
package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dvloznov/budgetflow/internal/ledger"
)

const (
	// DefaultTable is used when no table name is configured.
	DefaultTable = "budgetflow_processed_files"

	maxBatchSize      = 25 // DynamoDB BatchWriteItem limit
	maxUnprocessedTry = 5
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

type item struct {
	CustomerID  string `dynamodbav:"customer_id"`
	RecordKey   string `dynamodbav:"record_key"`
	FileHash    string `dynamodbav:"file_hash"`
	FileName    string `dynamodbav:"file_name"`
	Outcome     string `dynamodbav:"outcome"`
	ProcessedAt string `dynamodbav:"processed_at"`
}

// Config selects the table and, for local testing, a custom endpoint.
type Config struct {
	Region   string
	Table    string
	Endpoint string
}

// Store is a ledger.Store backed by DynamoDB.
type Store struct {
	api   API
	table string
}

var _ ledger.Store = (*Store)(nil)

// New loads the default AWS configuration and connects to the table.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledger/dynamodb: load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Table), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{api: api, table: table}
}

func recordKey(hash string, outcome ledger.Outcome) string {
	return hash + "#" + string(outcome)
}

func key(customerID, recordKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"customer_id": &types.AttributeValueMemberS{Value: customerID},
		"record_key":  &types.AttributeValueMemberS{Value: recordKey},
	}
}

// IsProcessed does a strongly consistent read of the success item.
func (s *Store) IsProcessed(ctx context.Context, customerID, hash string) (bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table),
		Key:                  key(customerID, recordKey(hash, ledger.OutcomeSuccess)),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("customer_id"),
	})
	if err != nil {
		return false, fmt.Errorf("ledger/dynamodb: IsProcessed: %w", err)
	}
	return len(out.Item) > 0, nil
}

// MarkProcessed puts the item, replacing any earlier write for the same key.
func (s *Store) MarkProcessed(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = ledger.Stamp(rec)

	av, err := attributevalue.MarshalMap(item{
		CustomerID:  rec.CustomerID,
		RecordKey:   recordKey(rec.Hash, rec.Outcome),
		FileHash:    rec.Hash,
		FileName:    rec.FileName,
		Outcome:     string(rec.Outcome),
		ProcessedAt: rec.ProcessedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("ledger/dynamodb: marshal record: %w", err)
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("ledger/dynamodb: MarkProcessed: %w", err)
	}
	return nil
}

// CustomerHistory queries one partition, most recent first.
func (s *Store) CustomerHistory(ctx context.Context, customerID string) ([]ledger.Record, error) {
	p := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
		ConsistentRead: aws.Bool(true),
	})

	var items []item
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger/dynamodb: query history: %w", err)
		}
		var batch []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("ledger/dynamodb: unmarshal history: %w", err)
		}
		items = append(items, batch...)
	}
	return toRecords(items)
}

// History scans the whole table, most recent first.
func (s *Store) History(ctx context.Context) ([]ledger.Record, error) {
	items, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	return toRecords(items)
}

func (s *Store) scan(ctx context.Context) ([]item, error) {
	p := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})

	var items []item
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger/dynamodb: scan: %w", err)
		}
		var batch []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("ledger/dynamodb: unmarshal scan: %w", err)
		}
		items = append(items, batch...)
	}
	return items, nil
}

func toRecords(items []item) ([]ledger.Record, error) {
	records := make([]ledger.Record, 0, len(items))
	for _, it := range items {
		ts, err := time.Parse(time.RFC3339Nano, it.ProcessedAt)
		if err != nil {
			return nil, fmt.Errorf("ledger/dynamodb: bad processed_at %q: %w", it.ProcessedAt, err)
		}
		records = append(records, ledger.Record{
			CustomerID:  it.CustomerID,
			Hash:        it.FileHash,
			FileName:    it.FileName,
			Outcome:     ledger.Outcome(it.Outcome),
			ProcessedAt: ts.UTC(),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ProcessedAt.After(records[j].ProcessedAt)
	})
	return records, nil
}

// Clear deletes one customer's items, or every item, in batches of 25.
func (s *Store) Clear(ctx context.Context, customerID string) (int64, error) {
	var (
		items []item
		err   error
	)
	if customerID == "" {
		items, err = s.scan(ctx)
	} else {
		items, err = s.itemsFor(ctx, customerID)
	}
	if err != nil {
		return 0, err
	}

	var deleted int64
	for start := 0; start < len(items); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, it := range items[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key(it.CustomerID, it.RecordKey)},
			})
		}

		if err := s.batchDelete(ctx, requests); err != nil {
			return deleted, err
		}
		deleted += int64(end - start)
	}
	return deleted, nil
}

func (s *Store) itemsFor(ctx context.Context, customerID string) ([]item, error) {
	records, err := s.CustomerHistory(ctx, customerID)
	if err != nil {
		return nil, err
	}
	items := make([]item, len(records))
	for i, r := range records {
		items[i] = item{CustomerID: r.CustomerID, RecordKey: recordKey(r.Hash, r.Outcome)}
	}
	return items, nil
}

// batchDelete resends unprocessed items a bounded number of times.
func (s *Store) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	pending := requests
	for attempt := 0; attempt < maxUnprocessedTry && len(pending) > 0; attempt++ {
		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: pending},
		})
		if err != nil {
			return fmt.Errorf("ledger/dynamodb: BatchWriteItem: %w", err)
		}
		pending = out.UnprocessedItems[s.table]
	}
	if len(pending) > 0 {
		return fmt.Errorf("ledger/dynamodb: %d deletes left unprocessed", len(pending))
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (s *Store) Close() error {
	return nil
}
