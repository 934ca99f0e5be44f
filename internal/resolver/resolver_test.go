package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	result  protocol.LoadResult
	err     error
	decoded track.Track
	queries []string
	decodes []string
}

func (f *fakeSearcher) LoadTracks(_ context.Context, identifier string) (protocol.LoadResult, error) {
	f.queries = append(f.queries, identifier)
	return f.result, f.err
}

func (f *fakeSearcher) DecodeTrack(_ context.Context, encoded string) (track.Track, error) {
	f.decodes = append(f.decodes, encoded)
	return f.decoded, f.err
}

func tr(title, author string, length int64) track.Track {
	return track.Track{Encoded: "enc-" + title + "-" + author, Info: track.Info{Title: title, Author: author, Length: length, URI: "https://yt/" + title}}
}

func TestResolveEncodedNeverSearches(t *testing.T) {
	s := &fakeSearcher{decoded: tr("Song", "Band", 1000)}
	got, err := Resolve(context.Background(), s, track.Unresolved{Encoded: "QAAA", Info: track.Info{Title: "Song"}}, Options{})
	require.NoError(t, err)
	assert.Empty(t, s.queries)
	assert.Equal(t, []string{"QAAA"}, s.decodes)
	assert.Equal(t, "enc-Song-Band", got.Encoded)
}

func TestResolveBuildsScopedQuery(t *testing.T) {
	tests := []struct {
		name   string
		info   track.Info
		source string
		want   string
	}{
		{"uri is searched directly", track.Info{URI: "https://soundcloud.com/a/b", Title: "x"}, "", "https://soundcloud.com/a/b"},
		{"source prefix", track.Info{Title: "Song", Author: "Band", SourceName: "spotify"}, "ytsearch", "spsearch:Song by Band"},
		{"stream source falls back", track.Info{Title: "Live", SourceName: "twitch"}, "youtube music", "ytmsearch:Live"},
		{"unknown default falls back to youtube", track.Info{Title: "Live", SourceName: "http"}, "nowhere", "ytsearch:Live"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSearcher{result: protocol.LoadResult{LoadType: protocol.LoadSearch, Tracks: []track.Track{tr("a", "b", 1)}}}
			_, err := Resolve(context.Background(), s, track.Unresolved{Info: tt.info}, Options{DefaultSource: tt.source})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, s.queries)
		})
	}
}

func TestClosestOrder(t *testing.T) {
	tests := []struct {
		name  string
		hint  track.Info
		cands []track.Track
		want  string
	}{
		{
			name:  "author match wins over earlier results",
			hint:  track.Info{Title: "Song", Author: "Band", Length: 200000},
			cands: []track.Track{tr("Cover", "Other", 200000), tr("Remix", "BAND", 1)},
			want:  "Remix",
		},
		{
			name:  "topic channel counts as author",
			hint:  track.Info{Title: "Song", Author: "Band"},
			cands: []track.Track{tr("x", "Other", 1), tr("y", "Band - Topic", 1)},
			want:  "y",
		},
		{
			name:  "title equality counts",
			hint:  track.Info{Title: "Exact Title", Author: "Nobody"},
			cands: []track.Track{tr("x", "Other", 1), tr("exact title", "Uploader", 1)},
			want:  "exact title",
		},
		{
			name:  "duration within tolerance",
			hint:  track.Info{Title: "Song", Author: "Band", Length: 200000},
			cands: []track.Track{tr("a", "x", 190000), tr("b", "y", 201400), tr("c", "z", 200000)},
			want:  "b",
		},
		{
			name:  "isrc after duration",
			hint:  track.Info{Title: "Song", Author: "Band", ISRC: "USRC17607839"},
			cands: []track.Track{tr("a", "x", 1), {Encoded: "i", Info: track.Info{Title: "isrc", ISRC: "USRC17607839"}}},
			want:  "isrc",
		},
		{
			name:  "first result as last resort",
			hint:  track.Info{Title: "Song", Author: "Band", Length: 5000},
			cands: []track.Track{tr("first", "x", 999999), tr("second", "y", 1)},
			want:  "first",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Closest(tt.hint, tt.cands)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Info.Title)
		})
	}

	_, ok := Closest(track.Info{Title: "x"}, nil)
	assert.False(t, ok)
}

func TestResolveFailures(t *testing.T) {
	ctx := context.Background()

	_, err := Resolve(ctx, &fakeSearcher{result: protocol.LoadResult{LoadType: protocol.LoadEmpty}}, track.Unresolved{Info: track.Info{Title: "x"}}, Options{})
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = Resolve(ctx, &fakeSearcher{}, track.Unresolved{}, Options{})
	assert.ErrorIs(t, err, ErrInvalidHint)

	boom := errors.New("node down")
	_, err = Resolve(ctx, &fakeSearcher{err: boom}, track.Unresolved{Info: track.Info{Title: "x"}}, Options{})
	assert.ErrorIs(t, err, boom)

	_, err = Resolve(ctx, &fakeSearcher{result: protocol.LoadResult{LoadType: protocol.LoadError, Exception: &protocol.Exception{Message: "blocked"}}}, track.Unresolved{Info: track.Info{Title: "x"}}, Options{})
	assert.ErrorContains(t, err, "blocked")
}

func TestMergePolicies(t *testing.T) {
	req := &track.Requester{ID: 42, Name: "alice"}
	hint := track.Unresolved{
		Info:      track.Info{Title: "Hint Title", Author: "", ArtworkURL: "https://art/hint", URI: "placeholder", Length: 1000},
		Requester: req,
	}
	fetched := track.Track{
		Encoded: "QAAA",
		Info:    track.Info{Title: "Fetched Title", Author: "Fetched Author", URI: "https://yt/real", IsSeekable: true, Length: 2000},
	}

	t.Run("prefer fetched", func(t *testing.T) {
		got := Merge(hint, fetched, PreferFetched)
		assert.Equal(t, "Fetched Title", got.Info.Title)
		assert.Equal(t, "Fetched Author", got.Info.Author)
		assert.Equal(t, "https://art/hint", got.Info.ArtworkURL, "missing fetched value falls back to hint")
		assert.Equal(t, int64(2000), got.Info.Length)
		assert.Equal(t, "https://yt/real", got.Info.URI)
		assert.Equal(t, "QAAA", got.Encoded)
		assert.Same(t, req, got.Requester)
	})

	t.Run("fill missing", func(t *testing.T) {
		got := Merge(hint, fetched, FillMissing)
		assert.Equal(t, "Hint Title", got.Info.Title)
		assert.Equal(t, "Fetched Author", got.Info.Author, "empty hint field is filled")
		assert.Equal(t, int64(1000), got.Info.Length)
		assert.Equal(t, "https://yt/real", got.Info.URI, "uri always overwritten")
		assert.True(t, got.Info.IsSeekable)
		assert.Equal(t, "QAAA", got.Encoded)
	})
}

func TestParseMergePolicy(t *testing.T) {
	p, err := ParseMergePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PreferFetched, p)
	p, err = ParseMergePolicy("fill_missing")
	require.NoError(t, err)
	assert.Equal(t, FillMissing, p)
	assert.Equal(t, "fill_missing", p.String())
	_, err = ParseMergePolicy("newest")
	assert.Error(t, err)
}

func TestSearchPrefix(t *testing.T) {
	p, ok := SearchPrefix("Apple Music")
	assert.True(t, ok)
	assert.Equal(t, "amsearch", p)
	p, ok = SearchPrefix("scsearch")
	assert.True(t, ok)
	assert.Equal(t, "scsearch", p)
	_, ok = SearchPrefix("twitch")
	assert.False(t, ok)
	assert.Equal(t, "dzsearch:already", BuildQuery("dzsearch:already", "youtube", ""))
}
