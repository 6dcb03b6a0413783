package genius

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/normalize"
)

// bestHit prefers a song whose primary artist matches the hint and falls back
// to the first song hit.
func bestHit(hits []gjson.Result, artist string) (int64, bool) {
	wantArtist := strings.ToLower(normalize.Text(artist))
	var first int64
	for _, hit := range hits {
		if hit.Get("type").String() != "song" {
			continue
		}
		res := hit.Get("result")
		id := res.Get("id").Int()
		if id == 0 {
			continue
		}
		if first == 0 {
			first = id
		}
		name := strings.ToLower(normalize.Text(res.Get("primary_artist.name").String()))
		if name != "" && (strings.Contains(name, wantArtist) || strings.Contains(wantArtist, name)) {
			return id, true
		}
	}
	return first, first != 0
}

func songFields(song gjson.Result, withCredits bool) models.FieldSet {
	fs := models.FieldSet{
		Title:       normalize.Text(song.Get("title").String()),
		Artist:      normalize.Text(song.Get("primary_artist.name").String()),
		Album:       normalize.Text(song.Get("album.name").String()),
		ExternalIDs: map[models.Provider]string{models.Genius: strconv.FormatInt(song.Get("id").Int(), 10)},
	}
	if d, ok := normalize.ReleaseDate(song.Get("release_date").String()); ok {
		fs.ReleaseDate = d
	} else if d, ok := normalize.ReleaseDate(song.Get("release_date_for_display").String()); ok {
		fs.ReleaseDate = d
	}
	if withCredits {
		fs.Credits = songCredits(song)
	}
	return fs
}

func songCredits(song gjson.Result) []models.Credit {
	var out []models.Credit
	add := func(role, path string) {
		for _, a := range song.Get(path).Array() {
			out = append(out, models.Credit{Role: role, Name: a.Get("name").String()})
		}
	}
	out = append(out, models.Credit{Role: "primary_artist", Name: song.Get("primary_artist.name").String()})
	add("featured_artist", "featured_artists")
	add("producer", "producer_artists")
	add("writer", "writer_artists")
	return normalize.Credits(out)
}

func songLyrics(song gjson.Result, text, pageURL string) *models.Lyrics {
	l := &models.Lyrics{Text: text, URL: pageURL}
	if lang, ok := normalize.Language(song.Get("language").String()); ok {
		l.Language = lang
	}
	return l
}

// extractLyrics joins the lyric containers of a song page. Line breaks are
// carried by <br> elements, and annotation headers are excluded.
func extractLyrics(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", err
	}
	var parts []string
	doc.Find(`div[data-lyrics-container="true"]`).Each(func(_ int, s *goquery.Selection) {
		s.Find(`[data-exclude-from-selection="true"]`).Remove()
		s.Find("br").ReplaceWithHtml("\n")
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n"), nil
}
