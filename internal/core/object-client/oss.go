package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"

	"github.com/markdave123-py/documind/internal/core"
)

var _ core.ObjectClient = (*OSSClient)(nil)

// OSSClient stores uploads in an Aliyun OSS bucket.
type OSSClient struct {
	client *oss.Client
	region string
	bucket string
}

func NewOSSClient(region, accessKeyID, accessKeySecret, bucket string) (*OSSClient, error) {
	if region == "" || bucket == "" {
		return nil, fmt.Errorf("OSS region and bucket must be set")
	}
	cfg := &oss.Config{
		Region: oss.Ptr(region),
	}
	if accessKeyID != "" {
		cfg.CredentialsProvider = credentials.NewStaticCredentialsProvider(accessKeyID, accessKeySecret)
	} else {
		cfg.CredentialsProvider = credentials.NewEnvironmentVariableCredentialsProvider()
	}
	return &OSSClient{client: oss.NewClient(cfg), region: region, bucket: bucket}, nil
}

func (c *OSSClient) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := c.client.PutObject(ctx, &oss.PutObjectRequest{
		Bucket:      oss.Ptr(c.bucket),
		Key:         oss.Ptr(key),
		ContentType: oss.Ptr(contentType),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("%w: oss put object: %w", core.ErrStorage, err)
	}
	return fmt.Sprintf("oss://%s/%s", c.bucket, key), nil
}

func (c *OSSClient) GetFile(ctx context.Context, key string) ([]byte, error) {
	result, err := c.client.GetObject(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(key),
	})
	if err != nil {
		if isOSSNotFound(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("%w: oss get object: %w", core.ErrStorage, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %w", core.ErrStorage, err)
	}
	return data, nil
}

func (c *OSSClient) DeleteFile(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &oss.DeleteObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(key),
	})
	if err != nil && !isOSSNotFound(err) {
		return fmt.Errorf("%w: oss delete object: %w", core.ErrStorage, err)
	}
	return nil
}

func (c *OSSClient) Ping(ctx context.Context) error {
	ok, err := c.client.IsBucketExist(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("oss bucket check: %w", err)
	}
	if !ok {
		return fmt.Errorf("oss bucket %q does not exist", c.bucket)
	}
	return nil
}

func isOSSNotFound(err error) bool {
	var serr *oss.ServiceError
	return errors.As(err, &serr) && (serr.StatusCode == http.StatusNotFound || serr.Code == "NoSuchKey")
}
