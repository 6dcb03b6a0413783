package lastfm

import (
	"github.com/tidwall/gjson"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/normalize"
)

// trackFields reads a track.getInfo payload. Counters arrive as strings and
// duration is in milliseconds, with "0" meaning unknown.
func trackFields(track gjson.Result) models.FieldSet {
	fs := models.FieldSet{
		Title:  normalize.Text(track.Get("name").String()),
		Artist: normalize.Text(track.Get("artist.name").String()),
		Album:  normalize.Text(track.Get("album.title").String()),
	}
	if ms, ok := normalize.DurationMS(track.Get("duration").Int()); ok {
		fs.DurationMS = ms
	}
	if d, ok := normalize.ReleaseDate(track.Get("wiki.published").String()); ok {
		fs.ReleaseDate = d
	}
	if v := track.Get("listeners"); v.Exists() {
		fs.Popularity.LastfmListeners, _ = normalize.Count(v.Int())
	}
	if v := track.Get("playcount"); v.Exists() {
		fs.Popularity.LastfmPlaycount, _ = normalize.Count(v.Int())
	}
	id := track.Get("mbid").String()
	if id == "" {
		id = track.Get("url").String()
	}
	if id != "" {
		fs.ExternalIDs = map[models.Provider]string{models.LastFM: id}
	}
	return fs
}
