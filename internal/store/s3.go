package store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/radiac/serac/internal/errs"
)

// S3 stores blobs in an S3 (or Glacier-fronting S3) bucket at
// "<prefix>/<first two hex chars>/<full hex hash>" within the bucket, and
// implements the cold-storage retrieval handshake via RestoreObject.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 backend for bucket, storing objects under prefix,
// using static credentials.
func NewS3(ctx context.Context, bucket, prefix, accessKey, secretKey string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, errs.New(errs.Store, "store.NewS3", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (b *S3) key(name string) string {
	p := BlobPath(name)
	if b.prefix == "" {
		return p
	}
	return b.prefix + "/" + p
}

// Put uploads name if it is not already present. S3 offers no native
// if-not-exists write, so Put checks Exists first; the rare race where two
// archivers upload the same new hash concurrently is harmless because the
// bytes are identical by construction (content-derived names).
func (b *S3) Put(ctx context.Context, name string, r io.Reader) error {
	ok, err := b.Exists(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		io.Copy(io.Discard, r) //nolint:errcheck
		return nil
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return errs.NewPath(errs.Store, "store.S3.Put", name, err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
		Body:   bytes.NewReader(buf),
	})
	if err != nil {
		return errs.NewPath(errs.Store, "store.S3.Put", name, err)
	}
	return nil
}

// Get opens the object for streaming. A missing key (NoSuchKey or HTTP 404)
// is surfaced as *ErrNotFound; any other failure, including
// InvalidObjectState for an archived object that is not yet restored, is
// returned as a Store error.
func (b *S3) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errs.NewPath(errs.NotFound, "store.S3.Get", name, &ErrNotFound{Name: name})
		}
		return nil, errs.NewPath(errs.Store, "store.S3.Get", name, err)
	}
	return out.Body, nil
}

// Exists reports whether the object is present (in any storage class).
func (b *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errs.NewPath(errs.Store, "store.S3.Exists", name, err)
	}
	return true, nil
}

// RequestRetrieval issues a Glacier RestoreObject request for name and
// reports whether the object is already restored (Ready) based on the
// object's current restore status header.
func (b *S3) RequestRetrieval(ctx context.Context, name string) (RetrievalHandle, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return RetrievalHandle{}, errs.NewPath(errs.NotFound, "store.S3.RequestRetrieval", name, &ErrNotFound{Name: name})
		}
		return RetrievalHandle{}, errs.NewPath(errs.Store, "store.S3.RequestRetrieval", name, err)
	}

	if head.StorageClass == "" || head.StorageClass == types.StorageClassStandard {
		return RetrievalHandle{Name: name, Ready: true}, nil
	}
	if head.Restore != nil && restoreCompleted(*head.Restore) {
		return RetrievalHandle{Name: name, Ready: true}, nil
	}

	_, err = b.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(1),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: types.TierStandard,
			},
		},
	})
	// A RestoreAlreadyInProgress error means the retrieval is already
	// underway; that is not a failure for the caller's purposes.
	if err != nil && !isRestoreInProgress(err) {
		return RetrievalHandle{}, errs.NewPath(errs.Store, "store.S3.RequestRetrieval", name, err)
	}
	return RetrievalHandle{Name: name, Ready: false}, nil
}

func restoreCompleted(restoreHeader string) bool {
	return bytes.Contains([]byte(restoreHeader), []byte(`ongoing-request="false"`))
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

func isRestoreInProgress(err error) bool {
	return bytes.Contains([]byte(err.Error()), []byte("RestoreAlreadyInProgress"))
}
