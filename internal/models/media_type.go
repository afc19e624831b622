package models

// MediaType classifies message content for rule gates and monitor filters.
// Voice, sticker, animation and webpage previews are sub-cases of a generic
// document on the wire; classification happens once during event parsing.
type MediaType string

// MediaType constants.
const (
	MediaTypeText      MediaType = "text"
	MediaTypePhoto     MediaType = "photo"
	MediaTypeVideo     MediaType = "video"
	MediaTypeAudio     MediaType = "audio"
	MediaTypeVoice     MediaType = "voice"
	MediaTypeSticker   MediaType = "sticker"
	MediaTypeAnimation MediaType = "animation"
	MediaTypeDocument  MediaType = "document"
	MediaTypeWebpage   MediaType = "webpage"
)

// IsAttachment reports whether the type carries downloadable bytes.
func (t MediaType) IsAttachment() bool {
	switch t {
	case MediaTypePhoto, MediaTypeVideo, MediaTypeAudio, MediaTypeVoice,
		MediaTypeSticker, MediaTypeAnimation, MediaTypeDocument:
		return true
	default:
		return false
	}
}
