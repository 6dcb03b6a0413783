package youtube

import (
	"regexp"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/normalize"
)

var (
	noiseRegex   = regexp.MustCompile(`(?i)\s*[\(\[](official\s+(music\s+)?video|official\s+audio|official\s+lyric\s+video|audio|video|lyrics?|hd|hq|4k|visualizer)[\)\]]`)
	featRegex    = regexp.MustCompile(`(?i)\b(feat\.?|featuring)\s`)
	splitRegex   = regexp.MustCompile(`\s+[-–—|:]\s+`)
	channelNoise = regexp.MustCompile(`(?i)(vevo|\s+-\s+topic|\s+official)$`)
)

func hitFields(hit searchHit) models.FieldSet {
	artist, title := splitTitle(hit.Title, hit.Channel)
	return models.FieldSet{
		Title:       title,
		Artist:      artist,
		ExternalIDs: map[models.Provider]string{models.YouTube: hit.VideoID},
	}
}

func applyVideo(fs *models.FieldSet, v *ytdl.Video) {
	if v == nil {
		return
	}
	if ms, ok := normalize.FromDuration(v.Duration); ok {
		fs.DurationMS = ms
	}
	if views, ok := normalize.Count(int64(v.Views)); ok {
		fs.Popularity.YouTubeViews = views
	}
}

// splitTitle turns "Artist - Title (Official Video)" into its parts. Without a
// separator the channel name stands in for the artist.
func splitTitle(raw, channel string) (artist, title string) {
	t := noiseRegex.ReplaceAllString(raw, "")
	t = featRegex.ReplaceAllString(t, "ft. ")
	t = normalize.Text(t)

	if parts := splitRegex.Split(t, 2); len(parts) == 2 {
		left, right := normalize.Text(parts[0]), normalize.Text(parts[1])
		if looksLikeArtist(left, right) {
			return left, right
		}
		return right, left
	}
	return channelArtist(channel), t
}

// looksLikeArtist guesses which side of a split is the performer: credits with
// commas or "ft." are artists, and short left sides usually are too.
func looksLikeArtist(left, right string) bool {
	lower := strings.ToLower(left)
	if strings.Contains(left, ",") || strings.Contains(lower, "ft.") || strings.Contains(lower, " & ") {
		return true
	}
	return len(strings.Fields(left)) <= 4 && len(strings.Fields(right)) >= 1
}

func channelArtist(channel string) string {
	return normalize.Text(channelNoise.ReplaceAllString(strings.TrimSpace(channel), ""))
}
