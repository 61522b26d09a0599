package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mcq_bot/internal/config"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArtifactStore 配对二维码等产物的存储后端
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// LocalArtifactStore writes under a directory on disk.
type LocalArtifactStore struct {
	Root string
}

func (p *LocalArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := util.WriteFileAtomic(filepath.Join(p.Root, key), data, 0644); err != nil {
		return "", err
	}
	return p.URL(key), nil
}

func (p *LocalArtifactStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(p.Root, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *LocalArtifactStore) URL(key string) string {
	return "/uploads/" + key
}

type MinioArtifactStore struct {
	Bucket string
	Client *minio.Client
}

func NewMinioArtifactStore(cfg *config.StorageConfig) (*MinioArtifactStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioArtifactStore{Bucket: cfg.MinioBucket, Client: client}, nil
}

func (p *MinioArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.URL(key), nil
}

func (p *MinioArtifactStore) Delete(ctx context.Context, key string) error {
	return p.Client.RemoveObject(ctx, p.Bucket, key, minio.RemoveObjectOptions{})
}

func (p *MinioArtifactStore) URL(key string) string {
	return "/" + p.Bucket + "/" + key
}

// OSSArtifactStore 阿里云OSS
type OSSArtifactStore struct {
	Endpoint string
	Bucket   string
	Client   *oss.Client
}

func NewOSSArtifactStore(cfg *config.StorageConfig) (*OSSArtifactStore, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSArtifactStore{Endpoint: cfg.OSSEndpoint, Bucket: cfg.OSSBucket, Client: client}, nil
}

func (p *OSSArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	bucket, err := p.Client.Bucket(p.Bucket)
	if err != nil {
		return "", err
	}
	if err := bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(contentType)); err != nil {
		return "", err
	}
	return p.URL(key), nil
}

func (p *OSSArtifactStore) Delete(ctx context.Context, key string) error {
	bucket, err := p.Client.Bucket(p.Bucket)
	if err != nil {
		return err
	}
	return bucket.DeleteObject(key)
}

func (p *OSSArtifactStore) URL(key string) string {
	return fmt.Sprintf("https://%s.%s/%s", p.Bucket, p.Endpoint, key)
}

// NewArtifactStore picks the provider named by storage.type. A remote
// provider that cannot be built falls back to local disk.
func NewArtifactStore(cfg *config.StorageConfig) ArtifactStore {
	var (
		store ArtifactStore
		err   error
	)
	switch cfg.Type {
	case util.StorageMinio:
		store, err = NewMinioArtifactStore(cfg)
	case util.StorageOSS:
		store, err = NewOSSArtifactStore(cfg)
	}
	if err != nil {
		logger.Log.Warn("Remote storage unavailable, using local disk", zap.String("type", cfg.Type), zap.Error(err))
	}
	if store == nil || err != nil {
		return &LocalArtifactStore{Root: cfg.LocalPath}
	}
	return store
}
