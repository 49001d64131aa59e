// Package schema holds the frozen manifest schemas V0..V6 of the tapestry
// archive format and the pure upgrade step between each adjacent pair.
//
// A manifest is the root.json document of an archive. Every released schema
// stays decodable forever: the upgrade chain is append-only, and each upgrade
// must accept every document its version's validator accepts.
package schema

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ArchivePrefix marks a reference to an entry inside the same archive.
const ArchivePrefix = "file:/"

// Point is a coordinate on the canvas, or a normalized anchor on an item.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair in canvas units.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate validates the size.
func (s Size) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Width, validation.Min(0.0)),
		validation.Field(&s.Height, validation.Min(0.0)),
	)
}

// Rectangle is the optional initial viewport of a tapestry.
type Rectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate validates the rectangle.
func (r Rectangle) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Width, validation.Min(0.0)),
		validation.Field(&r.Height, validation.Min(0.0)),
	)
}

// Thumbnail is an image reference with its pixel size.
type Thumbnail struct {
	Source string `json:"source"`
	Size   Size   `json:"size"`
}

// Validate validates the thumbnail.
func (t Thumbnail) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Source, validation.Required, validation.By(isReference)),
		validation.Field(&t.Size),
	)
}

func validateAnchor(p Point) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.X, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.Y, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Arrow head styles of a rel endpoint.
const (
	ArrowNone    = "none"
	ArrowPointed = "arrow"
)

// Rel weights, introduced in V4.
const (
	WeightLight  = "light"
	WeightMedium = "medium"
	WeightHeavy  = "heavy"
)

// Themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Webpage and video sub-types.
const (
	WebpageGeneric   = "generic"
	WebpageIAWayback = "iaWayback"
	VideoURL         = "url"
	VideoYouTube     = "youtube"
)

// IsArchiveRef reports whether s points at an entry inside the archive.
func IsArchiveRef(s string) bool {
	return strings.HasPrefix(s, ArchivePrefix)
}

// ArchiveRef returns the reference to the archive entry named name.
func ArchiveRef(name string) string {
	return ArchivePrefix + name
}

// ArchiveEntry returns the entry name of an archive reference.
func ArchiveEntry(ref string) (string, bool) {
	if !IsArchiveRef(ref) {
		return "", false
	}
	return strings.TrimPrefix(ref, ArchivePrefix), true
}

// isReference accepts either an archive reference with a non-empty entry
// name or any other non-empty string (an external URL or a store key).
func isReference(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if name, ok := ArchiveEntry(s); ok && strings.TrimSpace(name) == "" {
		return errors.New("archive reference has an empty entry name")
	}
	return nil
}

func uniqueIDs(kind string, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate %s id %q", kind, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func idSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func stringIn(values ...string) validation.Rule {
	in := make([]any, len(values))
	for i, v := range values {
		in[i] = v
	}
	return validation.In(in...)
}

func versionIs(n int) validation.Rule {
	return validation.By(func(value any) error {
		v, _ := value.(int)
		if v != n {
			return fmt.Errorf("must be %d", n)
		}
		return nil
	})
}
