package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qs3c/studio_go_server/internal/pkg/queue"
	"github.com/qs3c/studio_go_server/internal/service"
)

const (
	popTimeout      = 5 * time.Second
	deliveryTimeout = 30 * time.Second
)

// Deliverer 实际发送通知并写日志
type Deliverer interface {
	Deliver(ctx context.Context, event *service.NotificationEvent)
}

// Source 通知队列
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.NotificationMessage, error)
}

// Processor 通知队列消费者
type Processor struct {
	source    Source
	deliverer Deliverer
	workers   int
}

// NewProcessor workers 小于 1 时按 1 处理
func NewProcessor(source Source, deliverer Deliverer, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		source:    source,
		deliverer: deliverer,
		workers:   workers,
	}
}

// Process 发送一条队列消息
func (p *Processor) Process(ctx context.Context, msg *queue.NotificationMessage) {
	deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	p.deliverer.Deliver(deliverCtx, service.EventFromMessage(msg))
}

// Run 启动消费协程，直到 ctx 取消后返回
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Processor) loop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			log.Printf("Worker %d shutting down", workerID)
			return
		}

		msg, err := p.source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Worker %d: failed to pop notification: %v", workerID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		log.Printf("Worker %d: delivering %s to %s (attempt %d)", workerID, msg.Kind, msg.ToEmail, msg.Attempt)
		p.Process(ctx, msg)
	}
}
