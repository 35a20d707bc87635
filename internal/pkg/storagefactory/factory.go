package storagefactory

import (
	"context"
	"fmt"

	"talkingrock/internal/config"
	"talkingrock/internal/pkg/storage"
	"talkingrock/internal/pkg/storage/local"
	"talkingrock/internal/pkg/storage/oss"
)

// NewStorage creates the contact-inbox storage backend from config
func NewStorage(ctx context.Context, cfg *config.ContactConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "local", "":
		basePath := "./data/contacts"
		if cfg.Local != nil && cfg.Local.BasePath != "" {
			basePath = cfg.Local.BasePath
		}
		return local.NewLocalStorage(basePath)
	case "oss":
		if cfg.OSS == nil {
			return nil, fmt.Errorf("OSS storage config is required")
		}
		return oss.NewOSSStorage(
			cfg.OSS.Endpoint,
			cfg.OSS.Bucket,
			cfg.OSS.AccessKeyID,
			cfg.OSS.AccessKeySecret,
			cfg.OSS.Prefix,
		)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
