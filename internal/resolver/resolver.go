// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver turns unresolved track hints into playable tracks.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/protocol"
	"github.com/ManuGH/lavasync/internal/track"
	"golang.org/x/text/cases"
)

// DurationTolerance is the window inside which a search result's length is
// considered equal to the hint's.
const DurationTolerance = 1500 * time.Millisecond

var (
	ErrNoResults   = errors.New("resolver: no results")
	ErrInvalidHint = errors.New("resolver: hint has no encoded track, uri or title")
)

// Searcher is the node capability the resolver needs.
type Searcher interface {
	LoadTracks(ctx context.Context, identifier string) (protocol.LoadResult, error)
	DecodeTrack(ctx context.Context, encoded string) (track.Track, error)
}

// MergePolicy decides how metadata of the hint and the fetched track combine.
// The fetched URI and encoded handle always win.
type MergePolicy uint8

const (
	// PreferFetched overwrites hint metadata with non-empty fetched values.
	PreferFetched MergePolicy = iota
	// FillMissing keeps hint metadata and only fills empty fields.
	FillMissing
)

// ParseMergePolicy maps a configuration string to a MergePolicy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "prefer_fetched":
		return PreferFetched, nil
	case "fill_missing":
		return FillMissing, nil
	default:
		return PreferFetched, fmt.Errorf("unknown merge policy %q", s)
	}
}

func (p MergePolicy) String() string {
	if p == FillMissing {
		return "fill_missing"
	}
	return "prefer_fetched"
}

// Options configures a resolution.
type Options struct {
	DefaultSource string
	Policy        MergePolicy
}

// Resolve turns u into a playable track. A hint with an encoded handle is
// decoded and never searched.
func Resolve(ctx context.Context, s Searcher, u track.Unresolved, opts Options) (track.Track, error) {
	logger := log.WithComponentFromContext(ctx, "resolver")

	if u.Encoded != "" {
		t, err := s.DecodeTrack(ctx, u.Encoded)
		if err != nil {
			return track.Track{}, fmt.Errorf("decode track: %w", err)
		}
		return Merge(u, t, opts.Policy), nil
	}

	var query string
	switch {
	case u.Info.URI != "":
		query = u.Info.URI
	case u.Info.Title != "":
		q := u.Info.Title
		if u.Info.Author != "" {
			q += " by " + u.Info.Author
		}
		query = BuildQuery(q, u.Info.SourceName, opts.DefaultSource)
	default:
		return track.Track{}, ErrInvalidHint
	}

	res, err := s.LoadTracks(ctx, query)
	if err != nil {
		return track.Track{}, fmt.Errorf("search %q: %w", query, err)
	}
	if res.LoadType == protocol.LoadError && res.Exception != nil {
		return track.Track{}, fmt.Errorf("search %q: %w", query, res.Exception)
	}

	best, ok := Closest(u.Info, res.Tracks)
	if !ok {
		return track.Track{}, fmt.Errorf("%w: %q", ErrNoResults, query)
	}
	logger.Debug().Str("query", query).Str(log.FieldTrack, best.Info.Title).Msg("resolved track")
	return Merge(u, best, opts.Policy), nil
}

// Closest picks the best candidate for hint: an author match, else a length
// match within DurationTolerance, else an ISRC match, else the first result.
// It reports false only for an empty candidate list.
func Closest(hint track.Info, candidates []track.Track) (track.Track, bool) {
	if len(candidates) == 0 {
		return track.Track{}, false
	}

	if hint.Author != "" || hint.Title != "" {
		fold := cases.Fold()
		author := fold.String(hint.Author)
		topic := fold.String(hint.Author + " - Topic")
		title := fold.String(hint.Title)
		for _, c := range candidates {
			got := fold.String(c.Info.Author)
			if hint.Author != "" && (got == author || got == topic) {
				return c, true
			}
			if hint.Title != "" && fold.String(c.Info.Title) == title {
				return c, true
			}
		}
	}

	if hint.Length > 0 {
		tol := DurationTolerance.Milliseconds()
		for _, c := range candidates {
			d := c.Info.Length - hint.Length
			if d >= -tol && d <= tol {
				return c, true
			}
		}
	}

	if hint.ISRC != "" {
		for _, c := range candidates {
			if c.Info.ISRC == hint.ISRC {
				return c, true
			}
		}
	}

	return candidates[0], true
}

// Merge combines the hint with the fetched track under policy. The result
// keeps the hint's requester.
func Merge(u track.Unresolved, fetched track.Track, policy MergePolicy) track.Track {
	out := fetched
	out.Requester = u.Requester

	if policy == FillMissing {
		out.Info = u.Info
		fill(&out.Info.Identifier, fetched.Info.Identifier)
		fill(&out.Info.Author, fetched.Info.Author)
		fill(&out.Info.Title, fetched.Info.Title)
		fill(&out.Info.ArtworkURL, fetched.Info.ArtworkURL)
		fill(&out.Info.ISRC, fetched.Info.ISRC)
		fill(&out.Info.SourceName, fetched.Info.SourceName)
		if out.Info.Length == 0 {
			out.Info.Length = fetched.Info.Length
		}
		if len(u.PluginInfo) > 0 {
			out.PluginInfo = u.PluginInfo
		}
	} else {
		fill(&out.Info.Identifier, u.Info.Identifier)
		fill(&out.Info.Author, u.Info.Author)
		fill(&out.Info.Title, u.Info.Title)
		fill(&out.Info.ArtworkURL, u.Info.ArtworkURL)
		fill(&out.Info.ISRC, u.Info.ISRC)
		fill(&out.Info.SourceName, u.Info.SourceName)
		if out.Info.Length == 0 {
			out.Info.Length = u.Info.Length
		}
		if len(out.PluginInfo) == 0 {
			out.PluginInfo = u.PluginInfo
		}
	}

	// Playback-relevant flags always come from the node.
	out.Info.URI = fetched.Info.URI
	out.Info.IsSeekable = fetched.Info.IsSeekable
	out.Info.IsStream = fetched.Info.IsStream
	out.Info.Position = fetched.Info.Position
	out.Encoded = fetched.Encoded
	return out
}

// fill sets *dst to v when *dst is empty.
func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
