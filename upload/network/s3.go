package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/gabriel-vasile/mimetype"
)

// MinS3PartSize is the smallest part size S3 accepts for every part but the last one.
const MinS3PartSize = manager.MinUploadPartSize

// S3Params ...
type S3Params struct {
	Bucket          string
	Region          string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	// PartSize must match the chunk size of the uploader: part numbers are derived from chunk offsets.
	PartSize int64
}

type s3Upload struct {
	key   string
	size  int64
	parts []types.CompletedPart
}

// S3Transport uploads files to S3 using multipart uploads. It implements chunkuploader.Transport:
// the multipart upload ID is the handle, every chunk becomes one part.
type S3Transport struct {
	client    manager.UploadAPIClient
	bucket    string
	keyPrefix string
	partSize  int64
	logger    log.Logger

	mu      sync.Mutex
	uploads map[string]*s3Upload
}

// NewS3Transport creates an S3Transport with a client built from params.
func NewS3Transport(ctx context.Context, params S3Params, logger log.Logger) (*S3Transport, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("Bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return newS3Transport(s3.NewFromConfig(*cfg), params.Bucket, params.KeyPrefix, params.PartSize, logger)
}

func newS3Transport(client manager.UploadAPIClient, bucket, keyPrefix string, partSize int64, logger log.Logger) (*S3Transport, error) {
	if partSize < MinS3PartSize {
		return nil, fmt.Errorf("S3 multipart parts must be at least %d bytes, chunk size is %d", MinS3PartSize, partSize)
	}

	return &S3Transport{
		client:    client,
		bucket:    bucket,
		keyPrefix: keyPrefix,
		partSize:  partSize,
		logger:    logger,
		uploads:   map[string]*s3Upload{},
	}, nil
}

// Begin starts a multipart upload and returns its upload ID.
func (t *S3Transport) Begin(ctx context.Context, fileName string) (string, error) {
	key := t.objectKey(fileName)

	out, err := t.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.logger.Debugf("CreateMultipartUpload failed: %s", describeAWSError(err))
		return "", fmt.Errorf("create multipart upload: %w", err)
	}
	if out == nil || out.UploadId == nil || *out.UploadId == "" {
		return "", fmt.Errorf("create multipart upload: no upload ID in response")
	}

	t.mu.Lock()
	t.uploads[*out.UploadId] = &s3Upload{key: key}
	t.mu.Unlock()

	t.logger.Debugf("Multipart upload started for s3://%s/%s", t.bucket, key)
	return *out.UploadId, nil
}

// SendChunk uploads data as the part that starts at offset.
// A failed part aborts the multipart upload, the handle is unknown afterwards.
func (t *S3Transport) SendChunk(ctx context.Context, handle string, data []byte, offset int64) error {
	upload, err := t.upload(handle)
	if err != nil {
		return err
	}
	if offset%t.partSize != 0 {
		return fmt.Errorf("offset %d is not aligned to the part size %d", offset, t.partSize)
	}
	partNumber := int32(offset/t.partSize) + 1

	out, err := t.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(upload.key),
		UploadId:      aws.String(handle),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		t.logger.Warnf("Part %d of s3://%s/%s failed: %s", partNumber, t.bucket, upload.key, describeAWSError(err))
		t.mu.Lock()
		delete(t.uploads, handle)
		t.mu.Unlock()
		if abortErr := t.abort(context.WithoutCancel(ctx), upload.key, handle); abortErr != nil {
			t.logger.Warnf("%s", abortErr)
		}
		return fmt.Errorf("upload part %d: %w", partNumber, err)
	}

	t.mu.Lock()
	upload.parts = append(upload.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	upload.size += int64(len(data))
	t.mu.Unlock()

	return nil
}

// End completes the multipart upload, or aborts it when cancelled is true.
// A size mismatch between the received parts and totalSize aborts the upload and is reported as a negative acknowledgement.
func (t *S3Transport) End(ctx context.Context, handle string, totalSize int64, cancelled bool) (bool, error) {
	upload, err := t.upload(handle)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	delete(t.uploads, handle)
	t.mu.Unlock()

	if cancelled {
		if err := t.abort(ctx, upload.key, handle); err != nil {
			return false, err
		}
		return true, nil
	}

	if upload.size != totalSize {
		t.logger.Warnf("Received %d bytes for s3://%s/%s, expected %d; aborting", upload.size, t.bucket, upload.key, totalSize)
		if err := t.abort(ctx, upload.key, handle); err != nil {
			return false, err
		}
		return false, nil
	}

	if len(upload.parts) == 0 {
		// S3 cannot complete a multipart upload without parts; store the empty object directly.
		if err := t.abort(ctx, upload.key, handle); err != nil {
			return false, err
		}
		if _, err := t.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(t.bucket),
			Key:           aws.String(upload.key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		}); err != nil {
			t.logger.Debugf("PutObject failed: %s", describeAWSError(err))
			return false, fmt.Errorf("put empty object: %w", err)
		}
		return true, nil
	}

	parts := append([]types.CompletedPart{}, upload.parts...)
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err = t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(t.bucket),
		Key:             aws.String(upload.key),
		UploadId:        aws.String(handle),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		t.logger.Debugf("CompleteMultipartUpload failed: %s", describeAWSError(err))
		return false, fmt.Errorf("complete multipart upload: %w", err)
	}

	t.logger.Debugf("Multipart upload completed for s3://%s/%s (%d parts)", t.bucket, upload.key, len(parts))
	return true, nil
}

// UploadWhole stores data with a single PutObject request.
func (t *S3Transport) UploadWhole(ctx context.Context, fileName string, data []byte) (bool, error) {
	key := t.objectKey(fileName)
	size := int64(len(data))

	partSize := size + 1
	if partSize < MinS3PartSize {
		partSize = MinS3PartSize
	}
	uploader := manager.NewUploader(t.client, func(u *manager.Uploader) {
		// Larger than the body, so the manager sends one PutObject instead of a multipart upload.
		u.PartSize = partSize
		u.Concurrency = 1
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimetype.Detect(data).String()),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		t.logger.Debugf("PutObject failed: %s", describeAWSError(err))
		return false, fmt.Errorf("put object: %w", err)
	}

	return true, nil
}

func (t *S3Transport) upload(handle string) (*s3Upload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	upload, ok := t.uploads[handle]
	if !ok {
		return nil, fmt.Errorf("unknown upload handle: %s", handle)
	}
	return upload, nil
}

func (t *S3Transport) abort(ctx context.Context, key, handle string) error {
	_, err := t.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(handle),
	})
	if err != nil {
		t.logger.Debugf("AbortMultipartUpload failed: %s", describeAWSError(err))
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	t.logger.Debugf("Multipart upload aborted for s3://%s/%s", t.bucket, key)
	return nil
}

func (t *S3Transport) objectKey(fileName string) string {
	if t.keyPrefix == "" {
		return fileName
	}
	return path.Join(t.keyPrefix, fileName)
}

func describeAWSError(err error) string {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return fmt.Sprintf("%s: %s", apiError.ErrorCode(), apiError.ErrorMessage())
	}
	return err.Error()
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
