// Package connector wires the built-in stage implementations into a
// registry.
package connector

import (
	"context"
	"sync"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	csvconn "github.com/justapithecus/flume/connector/csv"
	s3conn "github.com/justapithecus/flume/connector/s3"
	"github.com/justapithecus/flume/connector/transform"
	"github.com/justapithecus/flume/stage"
)

// Options configures the built-in connectors.
type Options struct {
	// S3 configures the S3 client. The client is built lazily on first
	// use, so jobs that never touch S3 pay nothing for it.
	S3 s3conn.ClientConfig
}

// DefaultRegistry returns a registry with every built-in stage
// registered:
//
//	extractors:   csv, s3
//	transformers: noop, cleaner, aggregator
//	loaders:      csv, s3
func DefaultRegistry(opts Options) *stage.Registry {
	reg := stage.NewRegistry()
	client := &lazyS3{cfg: opts.S3}

	reg.RegisterExtractor("csv", func() stage.Extractor { return csvconn.NewExtractor() })
	reg.RegisterExtractor("s3", func() stage.Extractor { return s3conn.NewExtractor(client) })

	reg.RegisterTransformer("noop", func() stage.Transformer { return transform.NewNoop() })
	reg.RegisterTransformer("cleaner", func() stage.Transformer { return transform.NewCleaner() })
	reg.RegisterTransformer("aggregator", func() stage.Transformer { return transform.NewAggregator() })

	reg.RegisterLoader("csv", func() stage.Loader { return csvconn.NewLoader() })
	reg.RegisterLoader("s3", func() stage.Loader { return s3conn.NewLoader(client) })

	return reg
}

// lazyS3 defers AWS credential resolution until an S3 stage actually
// runs. Safe for concurrent use.
type lazyS3 struct {
	cfg  s3conn.ClientConfig
	once sync.Once

	client *awss3.Client
	err    error
}

func (l *lazyS3) get(ctx context.Context) (s3conn.API, error) {
	l.once.Do(func() {
		l.client, l.err = s3conn.NewClient(ctx, l.cfg)
	})
	return l.client, l.err
}

func (l *lazyS3) GetObject(ctx context.Context, input *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	client, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.GetObject(ctx, input, opts...)
}

func (l *lazyS3) PutObject(ctx context.Context, input *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	client, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.PutObject(ctx, input, opts...)
}

func (l *lazyS3) HeadObject(ctx context.Context, input *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	client, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.HeadObject(ctx, input, opts...)
}
