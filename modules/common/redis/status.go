package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusTTL = time.Hour

// Snapshot - 프로젝트의 마지막 진행 상태
type Snapshot struct {
	Status    string    `json:"status"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache - generation:{project_id} 진행 상태 캐시
type StatusCache struct {
	rdb *redis.Client
}

// NewStatusCache - StatusCache 생성
func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func statusKey(projectID string) string {
	return "generation:" + projectID
}

// Set - 스냅샷 저장 (1시간 TTL)
func (c *StatusCache) Set(ctx context.Context, projectID string, s Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, statusKey(projectID), raw, statusTTL).Err(); err != nil {
		return fmt.Errorf("cache status %s: %w", projectID, err)
	}
	return nil
}

// Get - 스냅샷 조회, 없으면 (nil, nil)
func (c *StatusCache) Get(ctx context.Context, projectID string) (*Snapshot, error) {
	raw, err := c.rdb.Get(ctx, statusKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached status %s: %w", projectID, err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode cached status %s: %w", projectID, err)
	}
	return &s, nil
}
