package utils

import (
	"github.com/cenkalti/backoff/v4"

	"angelone_tickstream/config"
)

// NewExponentialBackoff builds the reconnect policy. A zero MaxElapsedTime
// retries forever.
func NewExponentialBackoff(cfg *config.Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Backoff.InitialInterval
	b.MaxInterval = cfg.Backoff.MaxInterval
	b.MaxElapsedTime = cfg.Backoff.MaxElapsedTime
	b.Multiplier = cfg.Backoff.Multiplier
	b.RandomizationFactor = 0.1
	b.Reset()
	return b
}
