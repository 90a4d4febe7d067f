package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Runner - 큐에서 꺼낸 프로젝트 실행 (pipeline.Pipeline)
type Runner interface {
	Run(ctx context.Context, projectID string) error
}

// pollTimeout - BRPOP 블로킹 시간 (종료 신호 확인 주기)
const pollTimeout = 2 * time.Second

// Worker - Redis Queue Worker (동시 실행 수 제한)
type Worker struct {
	rdb    *redis.Client
	queue  string
	runner Runner
	slots  chan struct{}
	wg     sync.WaitGroup
}

// New - concurrency 만큼 프로젝트 동시 처리
func New(rdb *redis.Client, queue string, runner Runner, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		rdb:    rdb,
		queue:  queue,
		runner: runner,
		slots:  make(chan struct{}, concurrency),
	}
}

// Start - ctx 가 취소될 때까지 큐 감시. 진행 중인 실행은 Wait 로 대기
func (w *Worker) Start(ctx context.Context) {
	logrus.Infof("👀 Watching queue: %s (concurrency: %d)", w.queue, cap(w.slots))

	for {
		// 빈 슬롯이 생길 때까지 pop 하지 않음
		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			logrus.Info("🛑 Queue worker stopped")
			return
		}

		// Job 받기 (BRPOP - Blocking Right Pop)
		result, err := w.rdb.BRPop(ctx, pollTimeout, w.queue).Result()
		if err != nil {
			<-w.slots
			if ctx.Err() != nil {
				logrus.Info("🛑 Queue worker stopped")
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			logrus.Errorf("❌ Redis BRPOP error: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		// result[0]은 큐 이름, result[1]이 project_id
		projectID := result[1]
		logrus.WithField("project_id", projectID).Info("🎯 Received project from queue")

		w.wg.Add(1)
		go w.process(ctx, projectID)
	}
}

// Wait - 진행 중인 실행 종료 대기
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, projectID string) {
	defer w.wg.Done()
	defer func() { <-w.slots }()

	log := logrus.WithField("project_id", projectID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("💥 Pipeline panic: %v", r)
		}
	}()

	// 서버 종료가 진행 중인 실행을 끊지 않도록 분리 (파이프라인 자체 타임아웃 적용)
	if err := w.runner.Run(context.WithoutCancel(ctx), projectID); err != nil {
		log.Warnf("⚠️  Run finished with error: %v", err)
		return
	}
	log.Info("✅ Project processing finished")
}
