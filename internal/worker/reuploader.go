package worker

import (
	"context"
	"log"
	"time"
)

const reuploadInterval = 5 * time.Minute

// ReceiptArchiver 补传缺失的支付收据
type ReceiptArchiver interface {
	ArchiveMissingReceipts(ctx context.Context) (int, error)
}

// Reuploader 后台定期补传上传失败的收据
type Reuploader struct {
	archiver ReceiptArchiver
	interval time.Duration
}

// NewReuploader interval 为 0 时使用默认间隔
func NewReuploader(archiver ReceiptArchiver, interval time.Duration) *Reuploader {
	if interval <= 0 {
		interval = reuploadInterval
	}
	return &Reuploader{
		archiver: archiver,
		interval: interval,
	}
}

// Start 启动后台补传循环
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reuploader stopped")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *Reuploader) run(ctx context.Context) {
	archived, err := r.archiver.ArchiveMissingReceipts(ctx)
	if err != nil {
		log.Printf("Reuploader: failed to archive receipts: %v", err)
		return
	}
	if archived > 0 {
		log.Printf("Reuploader: archived %d missing receipts", archived)
	}
}
