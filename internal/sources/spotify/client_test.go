package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/ces0491/isrc-meta-data-finder/internal/models"
	"github.com/ces0491/isrc-meta-data-finder/internal/sources"
)

const searchPayload = `{"tracks":{"href":"","limit":1,"offset":0,"total":1,"items":[{
  "id":"3n3Ppam7vgaVa1iaRUc9Lp",
  "name":"Mr. Brightside",
  "duration_ms":222075,
  "popularity":87,
  "external_ids":{"isrc":"USRC17607839"},
  "artists":[{"id":"0C0XlULifJtAgn6ZNCW2eu","name":"The Killers"}],
  "album":{"name":"Hot Fuss","release_date":"2004-06-07","release_date_precision":"day"}
}]}}`

const featuresPayload = `{"audio_features":[{
  "id":"3n3Ppam7vgaVa1iaRUc9Lp",
  "danceability":0.352,"energy":0.911,"key":1,"mode":1,"tempo":148.114,"valence":0.236
}]}`

type fakeSpotify struct {
	tokens       atomic.Int32
	searches     atomic.Int32
	rejectFirst  bool
	featuresCode int
}

func (f *fakeSpotify) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token":
			n := f.tokens.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"token-` + string(rune('0'+n)) + `","token_type":"bearer","expires_in":3600}`))
		case "/v1/search":
			assert.Equal(t, "isrc:USRC17607839", r.URL.Query().Get("q"))
			assert.Equal(t, "track", r.URL.Query().Get("type"))
			if f.searches.Add(1) == 1 && f.rejectFirst {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
				return
			}
			_, _ = w.Write([]byte(searchPayload))
		case "/v1/audio-features":
			if f.featuresCode != 0 {
				w.WriteHeader(f.featuresCode)
				_, _ = w.Write([]byte(`{"error":{"status":403,"message":"Forbidden"}}`))
				return
			}
			_, _ = w.Write([]byte(featuresPayload))
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestClient(t *testing.T, fake *fakeSpotify) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return New(sources.Settings{
		BaseURL:        srv.URL + "/v1",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, Credentials{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/api/token"})
}

func TestFetchTrackAndFeatures(t *testing.T) {
	t.Parallel()

	fake := &fakeSpotify{}
	res := newTestClient(t, fake).Fetch(context.Background(), sources.Query{ISRC: "USRC17607839"})

	require.Equal(t, models.StatusSuccess, res.Status, res.Detail)
	f := res.Fields
	assert.Equal(t, "Mr. Brightside", f.Title)
	assert.Equal(t, "The Killers", f.Artist)
	assert.Equal(t, "Hot Fuss", f.Album)
	assert.Equal(t, int64(222075), f.DurationMS)
	assert.Equal(t, "2004-06-07", f.ReleaseDate)
	assert.Equal(t, "3n3Ppam7vgaVa1iaRUc9Lp", f.ExternalIDs[models.Spotify])
	require.NotNil(t, f.Popularity.SpotifyPopularity)
	assert.Equal(t, 87, *f.Popularity.SpotifyPopularity)

	require.Equal(t, 6, f.AudioFeatures.Present())
	assert.InDelta(t, 148.114, *f.AudioFeatures.Tempo, 1e-3)
	assert.Equal(t, 1, *f.AudioFeatures.Key)
	assert.InDelta(t, 0.911, *f.AudioFeatures.Energy, 1e-6)
	assert.Equal(t, int32(1), fake.tokens.Load())
}

func TestFetchRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	fake := &fakeSpotify{rejectFirst: true}
	res := newTestClient(t, fake).Fetch(context.Background(), sources.Query{ISRC: "USRC17607839"})

	require.Equal(t, models.StatusSuccess, res.Status, res.Detail)
	assert.Equal(t, int32(2), fake.searches.Load())
	assert.Equal(t, int32(2), fake.tokens.Load())
}

func TestFetchWithoutFeaturesIsPartial(t *testing.T) {
	t.Parallel()

	fake := &fakeSpotify{featuresCode: http.StatusNotFound}
	res := newTestClient(t, fake).Fetch(context.Background(), sources.Query{ISRC: "USRC17607839"})

	assert.Equal(t, models.StatusPartial, res.Status)
	assert.Equal(t, "Mr. Brightside", res.Fields.Title)
	assert.Zero(t, res.Fields.AudioFeatures.Present())
}

func TestFetchBadCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	c := New(sources.Settings{BaseURL: srv.URL + "/v1", MaxRetries: 2, InitialBackoff: time.Millisecond},
		Credentials{ClientID: "id", ClientSecret: "wrong", TokenURL: srv.URL + "/api/token"})
	res := c.Fetch(context.Background(), sources.Query{ISRC: "USRC17607839"})

	assert.Equal(t, models.StatusAuthError, res.Status)
}

func TestAudioFieldsDropOutOfRange(t *testing.T) {
	t.Parallel()

	got := audioFields(&spotifyapi.AudioFeatures{
		Key:          -1,
		Mode:         1,
		Tempo:        0,
		Energy:       1.5,
		Danceability: 0.5,
		Valence:      0.25,
	})
	assert.Nil(t, got.Key)
	assert.Nil(t, got.Tempo)
	assert.Nil(t, got.Energy)
	assert.Equal(t, 3, got.Present())
	assert.Zero(t, audioFields(nil).Present())
}
