// Package media indexes the shared media of a conversation for the sidebar.
package media

import (
	"regexp"

	"github.com/duochat/internal/model"
)

var linkRe = regexp.MustCompile(`https?://[^\s]+`)

// Link is a URL found in a text message.
type Link struct {
	URL       string
	MessageID string
	Username  string
}

// Index lists shared media newest first.
type Index struct {
	Images []model.Message
	Audio  []model.Message
	Links  []Link
}

// Organize builds the sidebar index from the log (oldest first). Deleted
// messages are skipped.
func Organize(msgs []model.Message) Index {
	var idx Index
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		switch m.Kind {
		case model.KindImage:
			idx.Images = append(idx.Images, m)
		case model.KindAudio:
			idx.Audio = append(idx.Audio, m)
		case model.KindText:
			found := linkRe.FindAllString(m.Text, -1)
			// Links inside one message keep their textual order.
			for _, u := range found {
				idx.Links = append(idx.Links, Link{URL: u, MessageID: m.ID, Username: m.Username})
			}
		}
	}
	return idx
}
