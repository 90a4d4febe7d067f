package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
)

// ErrObjectNotFound - 오브젝트 없음
var ErrObjectNotFound = errors.New("object not found")

// Store - 빌드 산출물 오브젝트 스토리지
type Store interface {
	// Upload - path 에 업로드 후 공개 URL 반환 (같은 path 는 덮어씀)
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	PublicURL(path string) string
}

// New - STORAGE_BACKEND 에 따라 Store 생성
func New(cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case config.BackendSupabase:
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket)
	case config.BackendLocal:
		return NewLocalStore(cfg.ProjectsDir+"/objects", cfg.PublicBaseURL+"/files")
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.StorageBackend)
	}
}

// SupabaseStore - Supabase Storage 버킷
type SupabaseStore struct {
	storage *storage_go.Client
	bucket  string
}

// NewSupabaseStore - Storage 클라이언트 생성
func NewSupabaseStore(url, serviceKey, bucket string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStore{storage: client.Storage, bucket: bucket}, nil
}

// Upload - Supabase Storage 업로드 (upsert)
func (s *SupabaseStore) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	logrus.Debugf("📤 Uploading to Supabase Storage: %s/%s (%d bytes)", s.bucket, path, len(data))

	upsert := true
	_, err := s.storage.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}

	url := s.PublicURL(path)
	logrus.Infof("✅ Uploaded %s (%d bytes)", path, len(data))
	return url, nil
}

// Download - 오브젝트 바이트 조회
func (s *SupabaseStore) Download(_ context.Context, path string) ([]byte, error) {
	data, err := s.storage.DownloadFile(s.bucket, path)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	return data, nil
}

// PublicURL - 공개 버킷 URL
func (s *SupabaseStore) PublicURL(path string) string {
	return s.storage.GetPublicUrl(s.bucket, path).SignedURL
}
