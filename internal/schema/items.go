package schema

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Item types present in every schema version.
const (
	TypeText    = "text"
	TypeAudio   = "audio"
	TypeBook    = "book"
	TypeImage   = "image"
	TypePDF     = "pdf"
	TypeVideo   = "video"
	TypeWebpage = "webpage"
)

// Item types that only exist in one era of the format.
const (
	TypeWaybackPage  = "wayback-page" // V0 only
	TypeYouTube      = "youtube"      // V0 only
	TypeActionButton = "actionButton" // V5+
)

var (
	mediaTypes = map[string]bool{
		TypeAudio: true, TypeBook: true, TypeImage: true,
		TypePDF: true, TypeVideo: true, TypeWebpage: true,
		TypeWaybackPage: true, TypeYouTube: true,
	}

	typesV0 = []string{TypeText, TypeAudio, TypeBook, TypeImage, TypePDF, TypeVideo, TypeWebpage, TypeWaybackPage, TypeYouTube}
	typesV1 = []string{TypeText, TypeAudio, TypeBook, TypeImage, TypePDF, TypeVideo, TypeWebpage}
	typesV5 = append(append([]string{}, typesV1...), TypeActionButton)
)

// IsMediaType reports whether items of type t carry a source.
func IsMediaType(t string) bool {
	return mediaTypes[t]
}

// itemCore holds the item fields that every schema version shares verbatim.
type itemCore struct {
	Type             string     `json:"type"`
	Title            string     `json:"title"`
	Position         Point      `json:"position"`
	Size             Size       `json:"size"`
	Text             string     `json:"text,omitempty"`
	Source           string     `json:"source,omitempty"`
	InternallyHosted bool       `json:"internallyHosted,omitempty"`
	Thumbnail        *Thumbnail `json:"thumbnail,omitempty"`
	CustomThumbnail  *Thumbnail `json:"customThumbnail,omitempty"`
}

func (c itemCore) validate(types []string) error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, stringIn(types...)),
		validation.Field(&c.Size),
		validation.Field(&c.Source,
			validation.When(IsMediaType(c.Type), validation.Required).Else(validation.Empty),
			validation.By(isReference),
		),
		validation.Field(&c.Thumbnail),
		validation.Field(&c.CustomThumbnail),
	)
}

// legacyTimes are the media trim fields used before V3: videos used
// startTime/endTime, audio used startAt/stopAt.
type legacyTimes struct {
	StartTime *float64 `json:"startTime,omitempty"`
	EndTime   *float64 `json:"endTime,omitempty"`
	StartAt   *float64 `json:"startAt,omitempty"`
	StopAt    *float64 `json:"stopAt,omitempty"`
}

func (t legacyTimes) validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.StartTime, validation.Min(0.0)),
		validation.Field(&t.EndTime, validation.Min(0.0)),
		validation.Field(&t.StartAt, validation.Min(0.0)),
		validation.Field(&t.StopAt, validation.Min(0.0)),
	)
}

// mediaTimes is the unified trim window of audio and video items (V3+).
type mediaTimes struct {
	StartTime *float64 `json:"startTime,omitempty"`
	StopTime  *float64 `json:"stopTime,omitempty"`
}

func (t mediaTimes) validate() error {
	if t.StartTime != nil && t.StopTime != nil && *t.StopTime < *t.StartTime {
		return errors.New("stopTime: must not precede startTime")
	}
	return validation.ValidateStruct(&t,
		validation.Field(&t.StartTime, validation.Min(0.0)),
		validation.Field(&t.StopTime, validation.Min(0.0)),
	)
}

// subTypes holds the webpage/video discriminators introduced in V1.
type subTypes struct {
	WebpageType string `json:"webpageType,omitempty"`
	VideoType   string `json:"videoType,omitempty"`
}

func (s subTypes) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.WebpageType, stringIn(WebpageGeneric, WebpageIAWayback)),
		validation.Field(&s.VideoType, stringIn(VideoURL, VideoYouTube)),
	)
}

func copyThumbnail(t *Thumbnail) *Thumbnail {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func (c itemCore) clone() itemCore {
	c.Thumbnail = copyThumbnail(c.Thumbnail)
	c.CustomThumbnail = copyThumbnail(c.CustomThumbnail)
	return c
}
