package musicbrainz

import (
	"strings"

	"github.com/cenkalti/backoff/v5"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/normalize"
)

// relationship types kept as credits; anything else (e.g. "misc") is noise
var creditRoles = map[string]string{
	"producer":      "producer",
	"co-producer":   "producer",
	"engineer":      "engineer",
	"mix":           "mixer",
	"mastering":     "mastering_engineer",
	"vocal":         "vocals",
	"instrument":    "musician",
	"performer":     "performer",
	"composer":      "composer",
	"lyricist":      "lyricist",
	"writer":        "writer",
	"arranger":      "arranger",
	"orchestrator":  "arranger",
	"librettist":    "lyricist",
	"conductor":     "conductor",
	"recording":     "recording_engineer",
	"programming":   "programmer",
	"remixer":       "remixer",
	"audio":         "engineer",
	"sound":         "engineer",
	"chorus master": "conductor",
}

func notFound(isrc string) error {
	return backoff.Permanent(apperrors.Wrap(apperrors.ErrNotFound, "musicbrainz", "isrc lookup", "no recording for "+isrc, nil))
}

func recordingFields(rec recording) models.FieldSet {
	fs := models.FieldSet{
		Title:       normalize.Text(rec.Title),
		Artist:      joinArtistCredit(rec.ArtistCredit),
		ExternalIDs: map[models.Provider]string{models.MusicBrainz: rec.ID},
	}
	if rec.Length != nil {
		if ms, ok := normalize.DurationMS(*rec.Length); ok {
			fs.DurationMS = ms
		}
	}
	if len(rec.Releases) > 0 {
		fs.Album = normalize.Text(rec.Releases[0].Title)
	}
	if d, ok := normalize.ReleaseDate(rec.FirstReleaseDate); ok {
		fs.ReleaseDate = d
	} else if len(rec.Releases) > 0 {
		if d, ok := normalize.ReleaseDate(rec.Releases[0].Date); ok {
			fs.ReleaseDate = d
		}
	}
	return fs
}

func joinArtistCredit(credits []artistCredit) string {
	var b strings.Builder
	for _, ac := range credits {
		name := ac.Name
		if name == "" {
			name = ac.Artist.Name
		}
		b.WriteString(name)
		b.WriteString(ac.JoinPhrase)
	}
	return normalize.Text(b.String())
}

// relationCredits reads recording-level artist relationships and the writers
// attached to the linked work.
func relationCredits(rels []relation) []models.Credit {
	var out []models.Credit
	for _, rel := range rels {
		switch {
		case rel.Artist != nil:
			if role, ok := creditRoles[rel.Type]; ok {
				out = append(out, models.Credit{Role: role, Name: rel.Artist.Name})
			}
		case rel.Work != nil:
			for _, wr := range rel.Work.Relations {
				if wr.Artist == nil {
					continue
				}
				if role, ok := creditRoles[wr.Type]; ok {
					out = append(out, models.Credit{Role: role, Name: wr.Artist.Name})
				}
			}
		}
	}
	return normalize.Credits(out)
}
