package models

// QualityRating is the discretized label derived from a confidence total.
type QualityRating string

const (
	RatingExcellent    QualityRating = "Excellent"
	RatingGood         QualityRating = "Good"
	RatingFair         QualityRating = "Fair"
	RatingPoor         QualityRating = "Poor"
	RatingInsufficient QualityRating = "Insufficient"
)

// Rank orders ratings from Insufficient (0) to Excellent (4).
func (q QualityRating) Rank() int {
	switch q {
	case RatingExcellent:
		return 4
	case RatingGood:
		return 3
	case RatingFair:
		return 2
	case RatingPoor:
		return 1
	default:
		return 0
	}
}

// Factor names one confidence scoring factor.
type Factor string

const (
	FactorDataSources     Factor = "data_sources"
	FactorEssentialFields Factor = "essential_fields"
	FactorAudioFeatures   Factor = "audio_features"
	FactorExternalIDs     Factor = "external_ids"
	FactorPopularity      Factor = "popularity_metrics"
	FactorLyrics          Factor = "lyrics_availability"
	FactorCredits         Factor = "credits_completeness"
	FactorCrossValidation Factor = "cross_validation"
)

// FactorScore is one breakdown entry: Value in [0,100], Weight in [0,1],
// Contribution = Value * Weight.
type FactorScore struct {
	Factor       Factor  `json:"factor"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type ConfidenceScore struct {
	Total     float64       `json:"total"`
	Breakdown []FactorScore `json:"breakdown"`
	Rating    QualityRating `json:"rating"`
}

// Factor returns the breakdown entry for f.
func (c ConfidenceScore) Factor(f Factor) (FactorScore, bool) {
	for _, fs := range c.Breakdown {
		if fs.Factor == f {
			return fs, true
		}
	}
	return FactorScore{}, false
}
