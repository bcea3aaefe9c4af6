// Package fragment encodes shareable session state into URL fragments.
package fragment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Recognized fragment keys.
const (
	KeySong      = "song"
	KeyReadSpeed = "readSpeed"
)

// Parse decodes a query-string style fragment. A leading '#' is ignored.
func Parse(fragment string) (url.Values, error) {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return url.Values{}, nil
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}
	return values, nil
}

// Encode serializes values as a fragment without the leading '#'. Keys are sorted.
func Encode(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	return values.Encode()
}

// Link is a share link: a base URL plus its fragment state.
//
// Link implements the engine's key/value port. It is not safe for concurrent use.
type Link struct {
	base   string
	values url.Values
}

// NewLink parses a share link. An empty raw link yields an empty fragment on base.
func NewLink(raw, base string) (*Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Link{base: strings.TrimSuffix(base, "#"), values: url.Values{}}, nil
	}
	head, frag, _ := strings.Cut(raw, "#")
	if head == "" {
		head = strings.TrimSuffix(base, "#")
	} else if _, err := url.Parse(head); err != nil {
		return nil, fmt.Errorf("invalid share link: %w", err)
	}
	values, err := Parse(frag)
	if err != nil {
		return nil, err
	}
	return &Link{base: head, values: values}, nil
}

// Get returns the first value stored under key.
func (l *Link) Get(_ context.Context, key string) (string, bool, error) {
	vs, ok := l.values[key]
	if !ok || len(vs) == 0 {
		return "", false, nil
	}
	return vs[0], true, nil
}

// Set replaces key, leaving every other key as it was.
func (l *Link) Set(_ context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("fragment key is empty")
	}
	l.values.Set(key, value)
	return nil
}

// Values returns a copy of the fragment state.
func (l *Link) Values() url.Values {
	out := make(url.Values, len(l.values))
	for k, vs := range l.values {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Fragment returns the encoded fragment without '#'.
func (l *Link) Fragment() string {
	return Encode(l.values)
}

// String returns the full share link.
func (l *Link) String() string {
	frag := l.Fragment()
	if frag == "" {
		return l.base
	}
	return l.base + "#" + frag
}
