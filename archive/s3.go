package archive

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"web/clustermap/cluster"
	"web/clustermap/config"
	"web/clustermap/logger"
)

// Uploader copies snapshot files to an S3-compatible bucket under
// snapshots/.
type Uploader struct {
	client *minio.Client
	bucket string
}

func NewUploader(cfg config.MinIO) (*Uploader, error) {
	if !cfg.Enabled() || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio: endpoint, credentials and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	return u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
}

// ObjectKey is where a snapshot lives in the bucket.
func ObjectKey(info Info) string {
	return path.Join("snapshots", info.Name)
}

// Upload stores the file at filename unless an object with the same key is
// already there.
func (u *Uploader) Upload(ctx context.Context, filename string) (string, error) {
	info, err := ParseFilename(filename)
	if err != nil {
		return "", err
	}
	key := ObjectKey(info)

	_, err = u.client.StatObject(ctx, u.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		logger.L().Debug("snapshot_upload_skipped", "bucket", u.bucket, "key", key)
		return key, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("failed to check for existing object: %w", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	if _, err := u.client.PutObject(ctx, u.bucket, key, f, st.Size(),
		minio.PutObjectOptions{ContentType: "application/zstd"}); err != nil {
		return "", fmt.Errorf("failed to store object in S3: %w", err)
	}
	logger.L().Info("snapshot_uploaded", "bucket", u.bucket, "key", key, "bytes", st.Size())
	return key, nil
}

// Download reads the snapshot stored under key.
func (u *Uploader) Download(ctx context.Context, key string) ([]cluster.Annotation, error) {
	obj, err := u.client.GetObject(ctx, u.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return cluster.ReadCompressed(obj)
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
