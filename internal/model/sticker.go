package model

// DefaultCustomPack is the pack custom uploads land in.
const DefaultCustomPack = "My Stickers"

type Sticker struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

// Ref returns the value sent as the message payload for this sticker.
func (s Sticker) Ref() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Text
}

// StickerPacks maps a pack name to its stickers.
type StickerPacks map[string][]Sticker

// DefaultCustomStickers is the custom-sticker cache before anything was uploaded.
func DefaultCustomStickers() StickerPacks {
	return StickerPacks{DefaultCustomPack: {}}
}
