package httpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fasthttp"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

type Options struct {
	URL        string
	Collection string
	Compress   bool
	Timeout    time.Duration
}

// Store posts each batch as one JSON bulk request to a document store's HTTP API.
type Store struct {
	opts    Options
	client  *fasthttp.Client
	encoder *zstd.Encoder
}

type Payload struct {
	Collection string             `json:"collection"`
	Documents  []logging.Document `json:"documents"`
}

func NewHTTPStore(opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("httpstore: url is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("httpstore: collection is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	s := &Store{
		opts: opts,
		client: &fasthttp.Client{
			MaxConnsPerHost:               4,
			MaxIdleConnDuration:           10 * time.Second,
			ReadTimeout:                   opts.Timeout,
			WriteTimeout:                  opts.Timeout,
			DisableHeaderNamesNormalizing: true,
		},
	}

	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("httpstore: create zstd encoder: %w", err)
		}
		s.encoder = enc
	}

	return s, nil
}

func (s *Store) Destination() string {
	return s.opts.Collection
}

// Open hands out a session on the shared client; fasthttp pools connections
// per host, so there is nothing to tear down per flush.
func (s *Store) Open(ctx context.Context) (logging.Session, error) {
	return &session{store: s}, nil
}

type session struct {
	store *Store
}

func (ss *session) PutBatch(ctx context.Context, docs []logging.Document) error {
	if len(docs) == 0 {
		return nil
	}
	s := ss.store

	body, err := json.Marshal(Payload{Collection: s.opts.Collection, Documents: docs})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.opts.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if s.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
		body = s.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	}
	req.SetBody(body)

	if deadline, ok := ctx.Deadline(); ok {
		err = s.client.DoDeadline(req, resp, deadline)
	} else {
		err = s.client.DoTimeout(req, resp, s.opts.Timeout)
	}
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("document store returned status %d: %s", status, string(resp.Body()))
	}
	return nil
}

func (ss *session) Close() error {
	return nil
}
