package shoonya

import (
	"mdstream/internal/application"
	"mdstream/internal/application/port"
	"mdstream/internal/infrastructure/broker"
)

func init() {
	broker.Register(application.VenueShoonya, func(opts broker.Options) port.Adapter {
		return New(opts)
	})
}
