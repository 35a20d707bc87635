package oss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSStorage archives objects in an aliyun OSS bucket under a fixed prefix.
type OSSStorage struct {
	bucket     *oss.Bucket
	bucketName string
	prefix     string
}

// NewOSSStorage creates an aliyun OSS store
func NewOSSStorage(endpoint, bucketName, accessKeyID, accessKeySecret, prefix string) (*OSSStorage, error) {
	client, err := oss.New(endpoint, accessKeyID, accessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSStorage{
		bucket:     bucket,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}, nil
}

// Put writes an object under key
func (s *OSSStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	options := []oss.Option{
		oss.ContentType(contentType),
	}

	if err := s.bucket.PutObject(s.objectKey(key), bytes.NewReader(data), options...); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Get reads an object by key
func (s *OSSStorage) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.bucket.GetObject(s.objectKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// List returns keys under prefix, lexically descending
func (s *OSSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	marker := ""

	for {
		result, err := s.bucket.ListObjects(
			oss.Prefix(s.objectKey(prefix)),
			oss.Marker(marker),
			oss.MaxKeys(1000),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range result.Objects {
			keys = append(keys, s.relativeKey(obj.Key))
		}

		if !result.IsTruncated {
			break
		}
		marker = result.NextMarker
	}

	// OSS lists ascending; inbox wants newest-named first
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}

// Delete removes an object
func (s *OSSStorage) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(s.objectKey(key)); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists reports whether key is present
func (s *OSSStorage) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.bucket.IsObjectExist(s.objectKey(key))
	if err != nil {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return exists, nil
}

// GetStorageType returns "oss"
func (s *OSSStorage) GetStorageType() string {
	return "oss"
}

func (s *OSSStorage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *OSSStorage) relativeKey(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.prefix+"/")
}
