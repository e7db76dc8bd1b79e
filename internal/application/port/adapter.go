package port

import (
	"context"

	"mdstream/internal/domain/model"
)

// Adapter 券商行情适配器的统一契约，平台其他部分只依赖此接口
type Adapter interface {
	Name() string
	Initialize(ctx context.Context, userID string, auth *model.AuthData) error
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbol, exchange string, mode model.Mode, depthLevel int) (model.SubscribeResult, error)
	Unsubscribe(symbol, exchange string, mode model.Mode) error
	State() model.AdapterState
	// Fatal is closed with the terminal error once the reconnect budget is exhausted.
	Fatal() <-chan error
}
