package port

import "context"

// Repository 最新行情存储（latest value），不是历史库
type Repository interface {
	UpsertLatest(ctx context.Context, topic string, payload []byte, ts int64) error
	Close() error
}
