// Package scoring turns a merged record and its provenance into a confidence
// score. Score is pure: the same inputs always give the same breakdown.
package scoring

import (
	"math"
	"slices"

	"github.com/ces0491/isrc-meta-data-finder/internal/matcher"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

type factorSpec struct {
	factor models.Factor
	weight float64
	value  func(in input) float64
}

type input struct {
	record     *models.CanonicalTrackRecord
	provenance *models.Provenance
	attempted  []models.Provider
}

// Weights sum to 1.
var factors = []factorSpec{
	{models.FactorDataSources, 0.25, dataSources},
	{models.FactorEssentialFields, 0.20, essentialFields},
	{models.FactorAudioFeatures, 0.15, audioFeatures},
	{models.FactorExternalIDs, 0.10, externalIDs},
	{models.FactorPopularity, 0.10, popularity},
	{models.FactorLyrics, 0.10, lyrics},
	{models.FactorCredits, 0.05, credits},
	{models.FactorCrossValidation, 0.05, crossValidation},
}

var songwriterRoles = []string{"writer", "songwriter", "composer", "lyricist"}

// Score computes the eight-factor confidence score.
func Score(record *models.CanonicalTrackRecord, provenance *models.Provenance, attempted []models.Provider) models.ConfidenceScore {
	if record == nil {
		record = &models.CanonicalTrackRecord{}
	}
	in := input{record: record, provenance: provenance, attempted: attempted}

	out := models.ConfidenceScore{Breakdown: make([]models.FactorScore, 0, len(factors))}
	var total float64
	for _, f := range factors {
		v := clamp(f.value(in), 0, 100)
		contribution := v * f.weight
		total += contribution
		out.Breakdown = append(out.Breakdown, models.FactorScore{
			Factor:       f.factor,
			Value:        round2(v),
			Weight:       f.weight,
			Contribution: round2(contribution),
		})
	}
	out.Total = round2(clamp(total, 0, 100))
	out.Rating = Rate(out.Total)
	return out
}

// Rate maps a total onto its quality rating.
func Rate(total float64) models.QualityRating {
	switch {
	case total >= 90:
		return models.RatingExcellent
	case total >= 75:
		return models.RatingGood
	case total >= 60:
		return models.RatingFair
	case total >= 40:
		return models.RatingPoor
	default:
		return models.RatingInsufficient
	}
}

func dataSources(in input) float64 {
	if len(in.attempted) == 0 || in.provenance == nil {
		return 0
	}
	succeeded := 0
	for _, p := range in.attempted {
		if slices.Contains(in.provenance.Succeeded, p) {
			succeeded++
		}
	}
	return ratio(succeeded, len(in.attempted))
}

func essentialFields(in input) float64 {
	r := in.record
	present := 0
	for _, ok := range []bool{r.Title != "", r.Artist != "", r.Album != "", r.DurationMS > 0, r.ReleaseDate != ""} {
		if ok {
			present++
		}
	}
	return ratio(present, 5)
}

func audioFeatures(in input) float64 {
	return ratio(in.record.AudioFeatures.Present(), 6)
}

func externalIDs(in input) float64 {
	if len(in.attempted) == 0 {
		return 0
	}
	withID := 0
	for _, p := range in.attempted {
		if in.record.ExternalIDs[p] != "" {
			withID++
		}
	}
	return ratio(withID, len(in.attempted))
}

// popularity splits 100 points between Spotify popularity and a view count.
// Each half gives 25 for presence and up to 25 more for magnitude; views reach
// the top at a billion.
func popularity(in input) float64 {
	pm := in.record.Popularity
	var v float64
	if pm.SpotifyPopularity != nil {
		v += 25 + 25*clamp(float64(*pm.SpotifyPopularity), 0, 100)/100
	}
	views := pm.YouTubeViews
	if views == nil {
		views = pm.LastfmPlaycount
	}
	if views != nil && *views >= 0 {
		v += 25 + 25*math.Min(1, math.Log10(float64(*views)+1)/9)
	}
	return v
}

func lyrics(in input) float64 {
	l := in.record.Lyrics
	if l == nil || l.Text == "" {
		return 0
	}
	if l.Language != "" {
		return 100
	}
	return 80
}

func credits(in input) float64 {
	if len(in.record.Credits) == 0 {
		return 0
	}
	for _, c := range in.record.Credits {
		if slices.Contains(songwriterRoles, c.Role) {
			return 100
		}
	}
	return 50
}

var crossValidatedFields = []models.Field{
	models.FieldTitle,
	models.FieldArtist,
	models.FieldAlbum,
	models.FieldDuration,
}

// crossValidation is the share of agreeing candidate pairs from different
// sources across title, artist, album and duration.
func crossValidation(in input) float64 {
	if in.provenance == nil {
		return 0
	}
	compared, agreed := 0, 0
	for _, field := range crossValidatedFields {
		cands := in.provenance.Fields[field].Candidates
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				if cands[i].Source == cands[j].Source {
					continue
				}
				ok, valid := agree(cands[i].Value, cands[j].Value)
				if !valid {
					continue
				}
				compared++
				if ok {
					agreed++
				}
			}
		}
	}
	return ratio(agreed, compared)
}

func agree(a, b any) (agreed, valid bool) {
	switch av := a.(type) {
	case string:
		bv, isString := b.(string)
		if !isString || av == "" || bv == "" {
			return false, false
		}
		return matcher.Agree(av, bv), true
	case int64:
		bv, isInt := b.(int64)
		if !isInt || av <= 0 || bv <= 0 {
			return false, false
		}
		return matcher.DurationsAgree(av, bv), true
	default:
		return false, false
	}
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return 100 * float64(n) / float64(d)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
