package spotify

import (
	"strings"

	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/normalize"
)

func trackFields(t spotifyapi.FullTrack) models.FieldSet {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if name := normalize.Text(a.Name); name != "" {
			artists = append(artists, name)
		}
	}

	fs := models.FieldSet{
		Title:       normalize.Text(t.Name),
		Artist:      strings.Join(artists, ", "),
		Album:       normalize.Text(t.Album.Name),
		ExternalIDs: map[models.Provider]string{models.Spotify: string(t.ID)},
	}
	if ms, ok := normalize.DurationMS(int64(t.Duration)); ok {
		fs.DurationMS = ms
	}
	if d, ok := normalize.ReleaseDate(t.Album.ReleaseDate); ok {
		fs.ReleaseDate = d
	}
	if pop := int(t.Popularity); pop >= 0 && pop <= 100 {
		fs.Popularity.SpotifyPopularity = &pop
	}
	return fs
}

func audioFields(f *spotifyapi.AudioFeatures) models.AudioFeatures {
	var out models.AudioFeatures
	if f == nil {
		return out
	}
	out.Tempo, _ = normalize.Tempo(float64(f.Tempo))
	out.Key, _ = normalize.PitchClass(int(f.Key))
	out.Mode, _ = normalize.Mode(int(f.Mode))
	out.Energy, _ = normalize.UnitInterval(float64(f.Energy))
	out.Danceability, _ = normalize.UnitInterval(float64(f.Danceability))
	out.Valence, _ = normalize.UnitInterval(float64(f.Valence))
	return out
}
