package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/duochat/internal/composer"
	"github.com/duochat/internal/media"
	"github.com/duochat/internal/model"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")
	accentColor  = lipgloss.Color("#F59E0B")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	selfNameStyle  = lipgloss.NewStyle().Foreground(selfColor).Bold(true)
	otherNameStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	deletedStyle   = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	replyStyle     = lipgloss.NewStyle().
			Foreground(mutedColor).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(accentColor).
			PaddingLeft(1)
	selectedStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(accentColor)
	unselectedStyle = lipgloss.NewStyle().PaddingLeft(1)

	errorStyle  = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(mutedColor).Padding(0, 1)
	modalStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errorColor).
			Padding(1, 2)
	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
)

// body renders the payload of m without the author line.
func body(m model.Message) string {
	switch m.Kind {
	case model.KindDeleted:
		return deletedStyle.Render(model.DeletedPlaceholder)
	case model.KindImage:
		return "🖼  " + m.Text
	case model.KindSticker, model.KindCustomSticker:
		return "[sticker] " + m.Text
	case model.KindAudio:
		return "🎤 voice message " + m.Text
	}
	return m.Text
}

// renderMessage renders one log entry: author line, optional reply quote, body.
// pending marks a delete awaiting confirmation.
func renderMessage(m model.Message, self string, width int, selected, pending bool) string {
	name := otherNameStyle.Render(m.Username)
	if m.Username == self {
		name = selfNameStyle.Render(m.Username)
	}
	head := name + " " + mutedStyle.Render(m.Timestamp.Local().Format("15:04"))
	if pending {
		head += " " + mutedStyle.Render("(deleting…)")
	}

	inner := width - 2
	if inner < 10 {
		inner = 10
	}
	lines := []string{head}
	if m.ReplyTo != nil {
		quote := m.ReplyTo.Username + ": " + m.ReplyTo.Summary()
		lines = append(lines, replyStyle.Width(inner-2).Render(quote))
	}
	lines = append(lines, lipgloss.NewStyle().Width(inner).Render(body(m)))

	block := strings.Join(lines, "\n")
	if selected {
		return selectedStyle.Render(block)
	}
	return unselectedStyle.Render(block)
}

// layout renders the log and returns the first line of every message, used
// to keep the visual anchor when a history page is inserted above.
func layout(msgs []model.Message, self string, width, selected int, pending map[string]bool) (string, []int) {
	var b strings.Builder
	starts := make([]int, len(msgs))
	line := 0
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		starts[i] = line
		block := renderMessage(m, self, width, i == selected, pending[m.ID])
		b.WriteString(block)
		line += lipgloss.Height(block)
	}
	return b.String(), starts
}

// attachmentLine describes what Send would emit besides the draft.
func attachmentLine(att *composer.Attachment, reply *model.ReplyRef) string {
	var parts []string
	if reply != nil {
		parts = append(parts, "replying to "+reply.Username+": "+reply.Summary())
	}
	if att != nil {
		switch {
		case att.Ref != "":
			parts = append(parts, "sticker "+att.Ref)
		default:
			parts = append(parts, fmt.Sprintf("%s %s (%s)", att.Kind, att.Name, humanize.IBytes(uint64(len(att.Data)))))
		}
	}
	return strings.Join(parts, " · ")
}

// mediaPanel renders the shared-media sidebar.
func mediaPanel(idx media.Index, width int) string {
	var b strings.Builder
	section := func(title string, items []string) {
		b.WriteString(otherNameStyle.Render(fmt.Sprintf("%s (%d)", title, len(items))))
		b.WriteByte('\n')
		for _, it := range items {
			b.WriteString(" " + it + "\n")
		}
	}
	var images, audio, links []string
	for _, m := range idx.Images {
		images = append(images, m.Text)
	}
	for _, m := range idx.Audio {
		audio = append(audio, m.Username+" "+m.Timestamp.Local().Format("Jan 2 15:04"))
	}
	for _, l := range idx.Links {
		links = append(links, l.URL)
	}
	section("Images", images)
	section("Voice", audio)
	section("Links", links)
	return sidebarStyle.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}
