package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/metrics"
)

// Enqueue - project_id LPUSH, 큐 길이 반환
func Enqueue(ctx context.Context, rdb *redis.Client, queue, projectID string) (int64, error) {
	position, err := rdb.LPush(ctx, queue, projectID).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LPUSH failed: %w", err)
	}
	metrics.Default.QueueEnqueued.Add(1)
	logrus.WithField("project_id", projectID).Infof("📥 Enqueued on %s (position: %d)", queue, position)
	return position, nil
}

// Pending - 대기 중인 프로젝트 수
func Pending(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, queue).Result()
}
