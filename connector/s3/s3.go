// Package s3 provides the object-store CSV extractor and loader backed by
// the AWS SDK. Works against any S3-compatible provider (R2, MinIO) via a
// custom endpoint and path-style addressing.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/justapithecus/flume/connector/csv"
	"github.com/justapithecus/flume/dataset"
	"github.com/justapithecus/flume/stage"
	"github.com/justapithecus/flume/types"
)

// API is the subset of the S3 client the connector uses.
// Satisfied by *s3.Client; narrowed for test doubles.
type API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ClientConfig holds connection settings for the S3 client.
type ClientConfig struct {
	// Region is the AWS region (optional, default credential chain applies).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// NewClient builds an S3 client from the default AWS credential chain
// (env vars, shared config, IAM role) plus the given overrides.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// Extractor reads a CSV object from a bucket into a Dataset.
//
// Params:
//
//	bucket    (required) bucket name
//	key       (required) object key
//	delimiter (optional) single-character field delimiter, default ","
type Extractor struct {
	client API
}

// NewExtractor creates an S3 extractor over the given client.
func NewExtractor(client API) *Extractor {
	return &Extractor{client: client}
}

// Extract downloads and materializes the object.
func (e *Extractor) Extract(ctx context.Context, params stage.Params) (*dataset.Dataset, error) {
	bucket, key, err := objectRef(params)
	if err != nil {
		return nil, stage.NewError(stage.ErrSourceFormat, types.StageExtract, err)
	}
	delim, err := csv.Delimiter(params)
	if err != nil {
		return nil, stage.NewError(stage.ErrSourceFormat, types.StageExtract, err)
	}

	out, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, stage.WrapSourceError(fmt.Errorf("s3://%s/%s: %w", bucket, key, err))
	}
	defer out.Body.Close()

	ds, err := csv.Decode(out.Body, delim)
	if err != nil {
		return nil, stage.WrapSourceError(fmt.Errorf("s3://%s/%s: %w", bucket, key, err))
	}
	return ds, nil
}

// InspectSource reports object size and ETag for fingerprinting via a
// HEAD request, without downloading the data.
func (e *Extractor) InspectSource(ctx context.Context, params stage.Params) (*stage.SourceMeta, error) {
	bucket, key, err := objectRef(params)
	if err != nil {
		return nil, err
	}

	head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}

	meta := &stage.SourceMeta{Size: -1}
	if head.ContentLength != nil {
		meta.Size = *head.ContentLength
	}
	if head.ETag != nil {
		meta.ETag = *head.ETag
	}
	if head.LastModified != nil {
		meta.ModTime = head.LastModified.UTC().Format(time.RFC3339Nano)
	}
	return meta, nil
}

// Loader writes a Dataset as a CSV object.
//
// Params:
//
//	bucket    (required) bucket name
//	key       (required) object key
//	delimiter (optional) single-character field delimiter, default ","
//	mode      (optional) overwrite | fail, default overwrite; fail refuses
//	          to replace an existing object
type Loader struct {
	client API
}

// NewLoader creates an S3 loader over the given client.
func NewLoader(client API) *Loader {
	return &Loader{client: client}
}

// Load encodes the dataset and uploads it in a single PutObject call, so
// a failed attempt never leaves a partial object.
func (l *Loader) Load(ctx context.Context, ds *dataset.Dataset, params stage.Params) (*types.LoadOutcome, error) {
	bucket, key, err := objectRef(params)
	if err != nil {
		return nil, stage.NewError(stage.ErrDestinationUnavailable, types.StageLoad, err)
	}
	delim, err := csv.Delimiter(params)
	if err != nil {
		return nil, stage.NewError(stage.ErrDestinationUnavailable, types.StageLoad, err)
	}

	if params.String("mode", "overwrite") == "fail" {
		_, headErr := l.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &bucket,
			Key:    &key,
		})
		switch {
		case headErr == nil:
			return nil, stage.NewError(stage.ErrConflict, types.StageLoad, fmt.Errorf("s3://%s/%s already exists", bucket, key))
		case isNotFound(headErr):
			// Expected outcome; proceed with the upload.
		default:
			return nil, stage.WrapDestinationError(headErr)
		}
	}

	var buf bytes.Buffer
	if err := csv.Encode(&buf, delim, ds, true); err != nil {
		return nil, stage.NewError(stage.ErrDestinationUnavailable, types.StageLoad, err)
	}

	body := bytes.NewReader(buf.Bytes())
	contentType := "text/csv"
	_, err = l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          body,
		ContentType:   &contentType,
		ContentLength: length(body),
	})
	if err != nil {
		return nil, stage.WrapDestinationError(fmt.Errorf("s3://%s/%s: %w", bucket, key, err))
	}
	return &types.LoadOutcome{
		RowsWritten: ds.Rows(),
		TargetRef:   fmt.Sprintf("s3://%s/%s", bucket, key),
	}, nil
}

func objectRef(params stage.Params) (bucket, key string, err error) {
	bucket = params.String("bucket", "")
	key = params.String("key", "")
	if bucket == "" || key == "" {
		return "", "", errors.New("s3 stage requires bucket and key")
	}
	return bucket, key, nil
}

func length(r *bytes.Reader) *int64 {
	n := r.Size()
	return &n
}

// isNotFound reports whether a HEAD request failed because the object is
// absent, as opposed to a network or credential failure.
func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}
