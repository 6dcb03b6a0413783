package discogs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/normalize"
)

var (
	// Discogs disambiguates artists with a numeric suffix: "The Killers (2)".
	disambiguation = regexp.MustCompile(`\s*\(\d+\)$`)
	roleDetail     = regexp.MustCompile(`\s*\[[^\]]*\]`)
)

var roleNames = map[string]string{
	"written-by":  "writer",
	"written by":  "writer",
	"songwriter":  "songwriter",
	"lyrics by":   "lyricist",
	"music by":    "composer",
	"composed by": "composer",
	"producer":    "producer",
	"co-producer": "producer",
	"mixed by":    "mixer",
	"mastered by": "mastering_engineer",
	"recorded by": "recording_engineer",
	"engineer":    "engineer",
	"arranged by": "arranger",
	"featuring":   "featured_artist",
}

func artistName(s string) string {
	return normalize.Text(disambiguation.ReplaceAllString(s, ""))
}

func hitFields(hit gjson.Result) models.FieldSet {
	fs := models.FieldSet{
		ExternalIDs: map[models.Provider]string{models.Discogs: strconv.FormatInt(hit.Get("id").Int(), 10)},
	}
	// search titles read "Artist - Album"
	if artist, album, ok := strings.Cut(hit.Get("title").String(), " - "); ok {
		fs.Artist = artistName(artist)
		fs.Album = normalize.Text(album)
	}
	if d, ok := normalize.ReleaseDate(hit.Get("year").String()); ok {
		fs.ReleaseDate = d
	}
	return fs
}

func releaseFields(rel gjson.Result, title string, withCredits bool) models.FieldSet {
	fs := models.FieldSet{
		Album:       normalize.Text(rel.Get("title").String()),
		Artist:      joinArtists(rel.Get("artists").Array()),
		ExternalIDs: map[models.Provider]string{models.Discogs: strconv.FormatInt(rel.Get("id").Int(), 10)},
	}
	if d, ok := normalize.ReleaseDate(rel.Get("released").String()); ok {
		fs.ReleaseDate = d
	} else if d, ok := normalize.ReleaseDate(rel.Get("year").String()); ok {
		fs.ReleaseDate = d
	}

	track, found := findTrack(rel.Get("tracklist").Array(), title)
	if found {
		fs.Title = normalize.Text(track.Get("title").String())
		if ms, ok := normalize.ClockDuration(track.Get("duration").String()); ok {
			fs.DurationMS = ms
		}
	}
	if withCredits {
		var credits []models.Credit
		credits = append(credits, extraArtists(rel.Get("extraartists").Array(), track, found)...)
		if found {
			credits = append(credits, extraArtists(track.Get("extraartists").Array(), track, false)...)
		}
		fs.Credits = normalize.Credits(credits)
	}
	return fs
}

func joinArtists(artists []gjson.Result) string {
	var b strings.Builder
	for i, a := range artists {
		b.WriteString(artistName(a.Get("name").String()))
		join := strings.TrimSpace(a.Get("join").String())
		if i < len(artists)-1 {
			switch join {
			case "", ",":
				b.WriteString(", ")
			default:
				b.WriteString(" " + join + " ")
			}
		}
	}
	return normalize.Text(b.String())
}

// findTrack matches the hinted title against the tracklist, ignoring case and
// bracketed qualifiers, so "Mr. Brightside (Radio Edit)" still matches.
func findTrack(tracklist []gjson.Result, title string) (gjson.Result, bool) {
	want := matchKey(title)
	for _, t := range tracklist {
		if t.Get("type_").String() == "heading" {
			continue
		}
		got := matchKey(t.Get("title").String())
		if got == want || (want != "" && strings.HasPrefix(got, want)) {
			return t, true
		}
	}
	return gjson.Result{}, false
}

func matchKey(s string) string {
	if i := strings.IndexAny(s, "(["); i > 0 {
		s = s[:i]
	}
	return strings.ToLower(normalize.Text(s))
}

// extraArtists reads release or track level credits. Release-level credits
// scoped to other tracks via "tracks" are skipped when the track is known.
func extraArtists(list []gjson.Result, track gjson.Result, scoped bool) []models.Credit {
	var out []models.Credit
	position := track.Get("position").String()
	for _, ea := range list {
		if scoped {
			if tracks := strings.TrimSpace(ea.Get("tracks").String()); tracks != "" && !coversPosition(tracks, position) {
				continue
			}
		}
		name := artistName(ea.Get("anv").String())
		if name == "" {
			name = artistName(ea.Get("name").String())
		}
		for _, role := range strings.Split(roleDetail.ReplaceAllString(ea.Get("role").String(), ""), ",") {
			role = strings.ToLower(strings.TrimSpace(role))
			if role == "" {
				continue
			}
			if mapped, ok := roleNames[role]; ok {
				role = mapped
			}
			out = append(out, models.Credit{Role: role, Name: name})
		}
	}
	return out
}

// coversPosition checks a Discogs track scope such as "A1, A3 to B2" for one
// position. Numeric positions compare as numbers, vinyl sides lexically.
func coversPosition(tracks, position string) bool {
	for _, part := range strings.Split(tracks, ",") {
		part = strings.TrimSpace(part)
		if from, to, ok := strings.Cut(part, " to "); ok {
			if inRange(position, strings.TrimSpace(from), strings.TrimSpace(to)) {
				return true
			}
			continue
		}
		if part == position {
			return true
		}
	}
	return false
}

func inRange(pos, from, to string) bool {
	p, errP := strconv.Atoi(pos)
	f, errF := strconv.Atoi(from)
	t, errT := strconv.Atoi(to)
	if errP == nil && errF == nil && errT == nil {
		return p >= f && p <= t
	}
	return pos >= from && pos <= to
}
