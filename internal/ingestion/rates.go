package ingestion

// RateSource converts an asset amount in minor units (stroops) to USD cents
// at ingestion time. A zero return means no rate is known for the asset.
type RateSource interface {
	USDCents(assetCode, assetIssuer string, stroops int64) int64
}

const stroopsPerUnit = 10_000_000

// StaticRateSource resolves rates from a fixed table of USD cents per whole
// unit, keyed by "CODE:ISSUER" with a "CODE" fallback. Native lumens use the
// "XLM" key.
type StaticRateSource struct {
	centsPerUnit map[string]int64
}

func NewStaticRateSource(centsPerUnit map[string]int64) *StaticRateSource {
	if centsPerUnit == nil {
		centsPerUnit = map[string]int64{}
	}
	return &StaticRateSource{centsPerUnit: centsPerUnit}
}

func (s *StaticRateSource) USDCents(assetCode, assetIssuer string, stroops int64) int64 {
	label := "XLM"
	if assetIssuer != "" {
		label = assetCode + ":" + assetIssuer
	}
	rate, ok := s.centsPerUnit[label]
	if !ok && assetIssuer != "" {
		rate, ok = s.centsPerUnit[assetCode]
	}
	if !ok || rate <= 0 {
		return 0
	}
	return stroops * rate / stroopsPerUnit
}
