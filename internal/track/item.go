package track

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the variants of Item.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindResolved
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "track"
	case KindUnresolved:
		return "unresolved"
	default:
		return "invalid"
	}
}

// ErrInvalidItem is returned when decoding an item with an unknown kind.
var ErrInvalidItem = errors.New("track: invalid item")

// Item is a queue slot: either a resolved Track or an Unresolved hint.
type Item struct {
	kind       Kind
	track      Track
	unresolved Unresolved
}

// Resolved wraps a playable track.
func Resolved(t Track) Item {
	return Item{kind: KindResolved, track: t}
}

// Pending wraps an unresolved hint.
func Pending(u Unresolved) Item {
	return Item{kind: KindUnresolved, unresolved: u}
}

// Kind returns the variant held by the item.
func (i Item) Kind() Kind { return i.kind }

// IsZero reports whether the item holds nothing.
func (i Item) IsZero() bool { return i.kind == KindInvalid }

// Track returns the resolved track, if any.
func (i Item) Track() (Track, bool) {
	return i.track, i.kind == KindResolved
}

// Unresolved returns the unresolved hint, if any.
func (i Item) Unresolved() (Unresolved, bool) {
	return i.unresolved, i.kind == KindUnresolved
}

// Info returns the metadata of whichever variant is held.
func (i Item) Info() Info {
	if i.kind == KindUnresolved {
		return i.unresolved.Info
	}
	return i.track.Info
}

// Encoded returns the server handle, empty for hints that lack one.
func (i Item) Encoded() string {
	if i.kind == KindUnresolved {
		return i.unresolved.Encoded
	}
	return i.track.Encoded
}

// Requester returns the requester of whichever variant is held.
func (i Item) Requester() *Requester {
	if i.kind == KindUnresolved {
		return i.unresolved.Requester
	}
	return i.track.Requester
}

func (i Item) String() string {
	info := i.Info()
	if info.Author == "" {
		return info.Title
	}
	return info.Title + " by " + info.Author
}

type itemJSON struct {
	Kind       string      `json:"kind"`
	Track      *Track      `json:"track,omitempty"`
	Unresolved *Unresolved `json:"unresolved,omitempty"`
}

func (i Item) MarshalJSON() ([]byte, error) {
	out := itemJSON{Kind: i.kind.String()}
	switch i.kind {
	case KindResolved:
		t := i.track
		out.Track = &t
	case KindUnresolved:
		u := i.unresolved
		out.Unresolved = &u
	default:
		return nil, ErrInvalidItem
	}
	return json.Marshal(out)
}

func (i *Item) UnmarshalJSON(data []byte) error {
	var in itemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Kind == KindResolved.String() && in.Track != nil:
		*i = Resolved(*in.Track)
	case in.Kind == KindUnresolved.String() && in.Unresolved != nil:
		*i = Pending(*in.Unresolved)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidItem, in.Kind)
	}
	return nil
}
