package port

import (
	"context"
	"errors"

	"mdstream/internal/domain/model"
)

// ErrSymbolNotFound 符号库中不存在该 (symbol, exchange)
var ErrSymbolNotFound = errors.New("symbol not found")

// SymbolResolver maps a platform (symbol, exchange) pair to the venue token.
// Implementations only read the symbol database.
type SymbolResolver interface {
	Resolve(ctx context.Context, symbol, exchange string) (model.Instrument, error)
}

// VenueResolver 按券商获取 SymbolResolver（一个符号库可服务多个券商）
type VenueResolver interface {
	ForVenue(venue string) SymbolResolver
}
