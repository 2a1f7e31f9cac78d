// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 描述容器中的一个对象。Name 不含配置的前缀。
type ObjectInfo struct {
	Name         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore 是文档容器的抽象。List 按存储返回的顺序给出对象。
type ObjectStore interface {
	List(ctx context.Context) ([]ObjectInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Stat(ctx context.Context, name string) (ObjectInfo, error)
	Remove(ctx context.Context, name string) error
	PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error)
}

// MinioStore 是基于 MinIO 的 ObjectStore 实现。
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ ObjectStore = (*MinioStore)(nil)

// NewMinioStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinioStore(ctx context.Context, cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("[MinIO] 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("[MinIO] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("[MinIO] 存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("[MinIO] 存储桶 '%s' 已存在", cfg.BucketName)
	}

	return &MinioStore{client: client, bucket: cfg.BucketName, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *MinioStore) key(name string) string {
	return s.prefix + name
}

// ValidateName 拒绝空名称和路径穿越。
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("object name is empty")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid object name %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("invalid object name %q", name)
		}
	}
	return nil
}

// List 递归列出前缀下的所有对象。
func (s *MinioStore) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列出对象失败: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, ObjectInfo{
			Name:         strings.TrimPrefix(obj.Key, s.prefix),
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// Read 读取对象的全部内容。
func (s *MinioStore) Read(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s 失败: %w", name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapNotFound(name, err)
	}
	return data, nil
}

// Put 上传对象，同名对象直接覆盖。
func (s *MinioStore) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", name, err)
	}
	log.Infof("[MinIO] 对象 '%s' 上传成功, 大小: %d", name, size)
	return nil
}

// Stat 返回对象元数据。
func (s *MinioStore) Stat(ctx context.Context, name string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapNotFound(name, err)
	}
	return ObjectInfo{Name: name, Size: info.Size, ContentType: info.ContentType, LastModified: info.LastModified}, nil
}

// Remove 删除对象；对象不存在时 MinIO 也返回成功，因此先 Stat。
func (s *MinioStore) Remove(ctx context.Context, name string) error {
	if _, err := s.Stat(ctx, name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", name, err)
	}
	log.Infof("[MinIO] 对象 '%s' 已删除", name)
	return nil
}

// PresignedURL generates a presigned URL for a given object.
func (s *MinioStore) PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.key(name), expiry, params)
	if err != nil {
		log.Errorf("[MinIO] Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}

func mapNotFound(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	return fmt.Errorf("读取对象 %s 失败: %w", name, err)
}
