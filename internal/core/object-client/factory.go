package objectclient

import (
	"context"
	"fmt"

	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/core"
)

// New builds the object client selected by cfg.StorageBackend.
func New(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	switch cfg.StorageBackend {
	case "", "disk":
		return NewDiskClient(cfg.UploadDir)
	case "s3":
		return NewS3Client(ctx, cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion, cfg.BucketName)
	case "oss":
		return NewOSSClient(cfg.OSSRegion, cfg.OSSAccessKeyID, cfg.OSSAccessKeySecret, cfg.OSSBucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
