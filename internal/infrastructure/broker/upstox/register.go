package upstox

import (
	"mdstream/internal/application"
	"mdstream/internal/application/port"
	"mdstream/internal/infrastructure/broker"
)

func init() {
	broker.Register(application.VenueUpstox, func(opts broker.Options) port.Adapter {
		return New(opts)
	})
}
