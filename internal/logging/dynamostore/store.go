// Package dynamostore writes log documents to a DynamoDB table with BatchWriteItem.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

// MaxItemsPerRequest is the BatchWriteItem service limit.
const MaxItemsPerRequest = 25

var errSessionClosed = errors.New("dynamodb session is closed")

type BatchWriteAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

type ClientFactory func(ctx context.Context) (BatchWriteAPI, error)

type Options struct {
	TableName string
	// Region, AccessKey and SecretKey are optional; when empty the SDK's
	// default chain (environment, shared config, instance role) is used.
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	// ReuseClient shares one client across flushes. The SDK caches and
	// refreshes credentials itself, so a long-lived client does not serve
	// stale credentials. Set to false to build a fresh client per flush.
	ReuseClient bool
	// MaxUnprocessedAttempts bounds resubmission of items DynamoDB returns
	// as unprocessed within a single flush.
	MaxUnprocessedAttempts int
	UnprocessedBackoff     time.Duration
}

type Store struct {
	opts      Options
	newClient ClientFactory

	mu     sync.Mutex
	client BatchWriteAPI
}

func NewStore(opts Options) (*Store, error) {
	return NewStoreWithFactory(opts, DefaultClientFactory(opts))
}

func NewStoreWithFactory(opts Options, factory ClientFactory) (*Store, error) {
	if opts.TableName == "" {
		return nil, fmt.Errorf("dynamodb: table name is required")
	}
	if opts.MaxUnprocessedAttempts <= 0 {
		opts.MaxUnprocessedAttempts = 3
	}
	if opts.UnprocessedBackoff <= 0 {
		opts.UnprocessedBackoff = 50 * time.Millisecond
	}
	return &Store{opts: opts, newClient: factory}, nil
}

// DefaultClientFactory resolves credentials and region the way the SDK does,
// overridden by explicit options.
func DefaultClientFactory(opts Options) ClientFactory {
	return func(ctx context.Context) (BatchWriteAPI, error) {
		var loadOpts []func(*config.LoadOptions) error
		if opts.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(opts.Region))
		}
		if opts.AccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
		}

		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
		}), nil
	}
}

func (s *Store) Destination() string {
	return s.opts.TableName
}

func (s *Store) Open(ctx context.Context) (logging.Session, error) {
	if !s.opts.ReuseClient {
		client, err := s.newClient(ctx)
		if err != nil {
			return nil, err
		}
		return &session{store: s, client: client}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		client, err := s.newClient(ctx)
		if err != nil {
			return nil, err
		}
		s.client = client
	}
	return &session{store: s, client: s.client}, nil
}

type session struct {
	store  *Store
	client BatchWriteAPI
	closed bool
}

// PutBatch writes all docs in requests of at most MaxItemsPerRequest. Any
// request error fails the whole batch; items still unprocessed after
// MaxUnprocessedAttempts are reported as a failure too.
func (ss *session) PutBatch(ctx context.Context, docs []logging.Document) error {
	if ss.closed {
		return errSessionClosed
	}

	requests := make([]types.WriteRequest, 0, len(docs))
	for i := range docs {
		item, err := attributevalue.MarshalMap(docs[i])
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", docs[i].ID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	for start := 0; start < len(requests); start += MaxItemsPerRequest {
		end := start + MaxItemsPerRequest
		if end > len(requests) {
			end = len(requests)
		}
		if err := ss.writeChunk(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (ss *session) writeChunk(ctx context.Context, chunk []types.WriteRequest) error {
	table := ss.store.opts.TableName
	pending := chunk

	for attempt := 1; ; attempt++ {
		out, err := ss.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: pending},
		})
		if err != nil {
			return fmt.Errorf("batch write to %s: %w", table, err)
		}

		if out == nil || len(out.UnprocessedItems[table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems[table]

		if attempt >= ss.store.opts.MaxUnprocessedAttempts {
			return fmt.Errorf("batch write to %s: %d items left unprocessed after %d attempts",
				table, len(pending), attempt)
		}

		select {
		case <-time.After(time.Duration(attempt) * ss.store.opts.UnprocessedBackoff):
		case <-ctx.Done():
			return fmt.Errorf("batch write to %s: %w", table, ctx.Err())
		}
	}
}

func (ss *session) Close() error {
	ss.closed = true
	ss.client = nil
	return nil
}
