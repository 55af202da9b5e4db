package matching

// EngineConfig carries construction-time defaults for an order book,
// mirroring the teacher engine's EngineConfig (trade-channel buffering,
// pool sizing) but scoped to what this domain's book actually needs.
type EngineConfig struct {
	// STPEnabled turns on the pre-trade self-trade scan (§4.3 step 1).
	STPEnabled bool
}

// DefaultEngineConfig returns the configuration used when a caller does not
// supply one explicitly.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{STPEnabled: true}
}
