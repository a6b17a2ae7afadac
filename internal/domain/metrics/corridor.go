package metrics

import "time"

// CorridorMetrics is one (corridor, UTC day) aggregation bucket. A payment
// ingested for day D increments exactly the bucket for D; buckets are never
// retroactively redistributed.
type CorridorMetrics struct {
	CorridorKey        string    `json:"corridor_key"`
	Date               string    `json:"date"` // YYYY-MM-DD, UTC
	AnchorID           string    `json:"anchor_id"` // owning anchor, empty until attributed
	TotalPayments      int64     `json:"total_payments"`
	SuccessfulPayments int64     `json:"successful_payments"`
	FailedPayments     int64     `json:"failed_payments"`
	Volume             int64     `json:"volume"`
	VolumeUSD          int64     `json:"volume_usd"`
	SuccessRateBp      int       `json:"success_rate_bp"` // basis points, 0..10000
	UpdatedAt          time.Time `json:"updated_at"`
}

// ApplyPayment folds one payment into the bucket and refreshes the stored
// success rate.
func (c *CorridorMetrics) ApplyPayment(successful bool, amount, amountUSD int64) {
	c.TotalPayments++
	if successful {
		c.SuccessfulPayments++
		c.Volume += amount
		c.VolumeUSD += amountUSD
	} else {
		c.FailedPayments++
	}
	c.SuccessRateBp = int(c.SuccessfulPayments * 10000 / c.TotalPayments)
}
