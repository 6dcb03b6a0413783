package lastfm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

const trackPayload = `{"track":{
  "name":"Mr. Brightside",
  "mbid":"",
  "url":"https://www.last.fm/music/The+Killers/_/Mr.+Brightside",
  "duration":"222000",
  "listeners":"3161823",
  "playcount":"41582312",
  "artist":{"name":"The Killers"},
  "album":{"title":"Hot Fuss"},
  "wiki":{"published":"08 Jan 2009, 15:04"}
}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(sources.Settings{BaseURL: srv.URL, MaxRetries: 2, InitialBackoff: time.Millisecond}, "lfm-key")
}

var query = sources.Query{ISRC: "USRC17607839", Title: "Mr. Brightside", Artist: "The Killers"}

func TestFetchTrackInfo(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "track.getInfo", q.Get("method"))
		assert.Equal(t, "lfm-key", q.Get("api_key"))
		assert.Equal(t, "The Killers", q.Get("artist"))
		assert.Equal(t, "Mr. Brightside", q.Get("track"))
		_, _ = w.Write([]byte(trackPayload))
	})

	res := c.Fetch(context.Background(), query)

	require.Equal(t, models.StatusSuccess, res.Status, res.Detail)
	f := res.Fields
	assert.Equal(t, "Hot Fuss", f.Album)
	assert.Equal(t, int64(222000), f.DurationMS)
	assert.Equal(t, "2009-01-08", f.ReleaseDate)
	require.NotNil(t, f.Popularity.LastfmListeners)
	assert.Equal(t, int64(3161823), *f.Popularity.LastfmListeners)
	require.NotNil(t, f.Popularity.LastfmPlaycount)
	assert.Equal(t, int64(41582312), *f.Popularity.LastfmPlaycount)
	assert.Equal(t, "https://www.last.fm/music/The+Killers/_/Mr.+Brightside", f.ExternalIDs[models.LastFM])
}

func TestFetchErrorTwentyNineIsRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"error":29,"message":"Rate Limit Exceded"}`))
			return
		}
		_, _ = w.Write([]byte(trackPayload))
	})

	res := c.Fetch(context.Background(), query)

	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchInvalidKey(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":10,"message":"Invalid API key"}`))
	})

	res := c.Fetch(context.Background(), query)
	assert.Equal(t, models.StatusAuthError, res.Status)
}

func TestFetchTrackNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"error":6,"message":"Track not found"}`))
	})

	res := c.Fetch(context.Background(), query)
	assert.Equal(t, models.StatusFailure, res.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchNeedsHint(t *testing.T) {
	t.Parallel()

	c := New(sources.Settings{BaseURL: "http://127.0.0.1:0"}, "k")
	res := c.Fetch(context.Background(), sources.Query{ISRC: "USRC17607839"})
	assert.Equal(t, models.StatusFailure, res.Status)
}

func TestTrackFieldsOmitUnknownDuration(t *testing.T) {
	t.Parallel()

	fs := trackFields(gjson.Parse(`{"name":"x","duration":"0","listeners":"-5"}`))
	assert.Zero(t, fs.DurationMS)
	assert.Nil(t, fs.Popularity.LastfmListeners)
	assert.Nil(t, fs.ExternalIDs)
}
