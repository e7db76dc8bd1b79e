package application

// Venue name constants, also the [brokers.<venue>] config keys and env var prefixes.
const (
	VenueKite    = "kite"
	VenueShoonya = "shoonya"
	VenueUpstox  = "upstox"
	VenueFyers   = "fyers"
)
