package fyers

import (
	"mdstream/internal/application"
	"mdstream/internal/application/port"
	"mdstream/internal/infrastructure/broker"
)

func init() {
	broker.Register(application.VenueFyers, func(opts broker.Options) port.Adapter {
		return New(opts)
	})
}
