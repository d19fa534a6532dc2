package config

import (
	"strings"
	"time"
)

// StorageKind tags which audio storage backend is active
type StorageKind string

const (
	StorageLocal  StorageKind = "local"
	StorageRemote StorageKind = "s3"
)

// LocalStorage is the resolved local-disk backend
type LocalStorage struct {
	Dir     string
	BaseURL string
}

// RemoteStorage is the resolved object-store backend
type RemoteStorage struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	URLExpiry       time.Duration

	// Endpoint overrides the AWS endpoint for S3-compatible stores
	Endpoint string
}

// StorageBackend is resolved once at startup. Exactly one of Local or
// Remote is set, matching Kind.
type StorageBackend struct {
	Kind   StorageKind
	Local  *LocalStorage
	Remote *RemoteStorage
}

// ResolveStorage picks the remote backend only when every required setting
// is present; partial configuration falls back to local storage.
func (c *Config) ResolveStorage() StorageBackend {
	s := c.Storage
	if s.AWSAccessKeyID != "" && s.AWSSecretAccessKey != "" && s.S3Bucket != "" {
		region := s.AWSRegion
		if region == "" {
			region = "us-east-1"
		}
		return StorageBackend{
			Kind: StorageRemote,
			Remote: &RemoteStorage{
				Bucket:          s.S3Bucket,
				Region:          region,
				AccessKeyID:     s.AWSAccessKeyID,
				SecretAccessKey: s.AWSSecretAccessKey,
				URLExpiry:       time.Duration(s.URLExpiresSecs) * time.Second,
				Endpoint:        s.S3Endpoint,
			},
		}
	}

	return StorageBackend{
		Kind: StorageLocal,
		Local: &LocalStorage{
			Dir:     c.Server.UploadDir,
			BaseURL: c.Server.BaseURL() + "/uploads",
		},
	}
}

// DatabaseKind tags which relational store is active
type DatabaseKind string

const (
	DatabaseSQLite   DatabaseKind = "sqlite"
	DatabasePostgres DatabaseKind = "postgres"
)

// DatabaseBackend is the resolved relational store
type DatabaseBackend struct {
	Kind DatabaseKind
	DSN  string
}

// ResolveDatabase treats postgres:// and postgresql:// URLs as postgres and
// anything else as a sqlite path.
func (c *Config) ResolveDatabase() DatabaseBackend {
	url := strings.TrimSpace(c.Database.URL)
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DatabaseBackend{Kind: DatabasePostgres, DSN: url}
	}
	return DatabaseBackend{Kind: DatabaseSQLite, DSN: strings.TrimPrefix(url, "sqlite://")}
}
