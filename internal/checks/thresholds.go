// Package checks implements the KPI threshold checks run by the alerts graph.
//
// A check queries one metric, compares it with its threshold and emits at most
// one alert. A breach is not a failure: only data access errors fail a check.
package checks

import "time"

// Thresholds holds the breach bounds of every check. Rates are percentages.
type Thresholds struct {
	BuyerBacklog       int64         `yaml:"buyerBacklog"`
	SLABreachRate      float64       `yaml:"slaBreachRate"`
	RLSDenials         int64         `yaml:"rlsDenials"`
	Impersonations     int64         `yaml:"impersonations"`
	PaymentFailureRate float64       `yaml:"paymentFailureRate"`
	ExpiringLicenses   int64         `yaml:"expiringLicenses"`
	PipelineStaleness  time.Duration `yaml:"pipelineStaleness"`
}

// DefaultThresholds returns the bounds used when none are configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		BuyerBacklog:       50,
		SLABreachRate:      10,
		RLSDenials:         20,
		Impersonations:     5,
		PaymentFailureRate: 5,
		ExpiringLicenses:   0,
		PipelineStaleness:  2 * time.Hour,
	}
}
