// Package tui — терминальный интерфейс открытой переписки (bubbletea).
// Модель только читает снимки Store и вызывает chat.Conversation; лог меняет
// исключительно цикл Conversation.Run.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/duochat/internal/chat"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
)

const (
	inputHeight = 3
	mediaWidth  = 36
	// header (2) + typing + attachment + status
	chromeHeight = 5
)

// ErrLogout is returned by Run when the user left with /logout.
var ErrLogout = errors.New("tui: logout requested")

// Anchor collects the rows inserted above the viewport by history pages.
// Conversation calls Add from its loop; the view consumes it on the next render.
type Anchor struct{ n atomic.Int64 }

func (a *Anchor) Add(added int) { a.n.Add(int64(added)) }

func (a *Anchor) take() int { return int(a.n.Swap(0)) }

type (
	changedMsg struct{}
	typingMsg  struct{}
	noticeMsg  model.Notice
	doneMsg    struct{ err error }
	sentMsg    struct{ err error }
	attachMsg  struct {
		name string
		err  error
	}
)

type Model struct {
	ctx    context.Context
	conv   *chat.Conversation
	anchor *Anchor

	vp    viewport.Model
	input textarea.Model
	ready bool

	width, height int

	msgs       []model.Message
	starts     []int
	selectedID string
	lastDraft  string
	typing     string
	status     string
	outbox     int
	notice     *model.Notice
	showMedia  bool
	sending    bool
	finished   bool
	logout     bool
}

// New builds the view of conv. anchor must be the one passed to chat.Options.OnAnchor.
func New(ctx context.Context, conv *chat.Conversation, anchor *Anchor) Model {
	if anchor == nil {
		anchor = &Anchor{}
	}
	in := textarea.New()
	in.Placeholder = "Type a message… (/image, /audio, /sticker, /media, /logout)"
	in.ShowLineNumbers = false
	in.CharLimit = 4000
	in.SetHeight(inputHeight)
	in.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	in.Focus()

	return Model{
		ctx:    ctx,
		conv:   conv,
		anchor: anchor,
		vp:     viewport.New(80, 20),
		input:  in,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		waitChange(m.conv.Store().Changes()),
		waitTyping(m.conv.TypingChanges()),
		waitNotice(m.conv.Notices()),
	)
}

func waitChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func waitTyping(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return typingMsg{}
	}
}

func waitNotice(ch <-chan model.Notice) tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-ch)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.BlurMsg:
		m.conv.Blur()
		return m, nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitChange(m.conv.Store().Changes())

	case typingMsg:
		m.typing = m.conv.TypingLine()
		return m, waitTyping(m.conv.TypingChanges())

	case noticeMsg:
		n := model.Notice(msg)
		if n.Blocking() {
			m.notice = &n
		} else {
			m.status = n.Text
		}
		return m, waitNotice(m.conv.Notices())

	case doneMsg:
		m.finished = true
		if msg.err == nil {
			return m, tea.Quit
		}
		if m.notice == nil {
			n := chat.Classify(msg.err)
			m.notice = &n
		}
		return m, nil

	case sentMsg:
		m.sending = false
		if msg.err != nil {
			m.restoreDraft()
		} else {
			m.status = ""
		}
		return m, nil

	case attachMsg:
		if msg.err != nil {
			m.conv.Report(msg.err)
			return m, nil
		}
		m.status = "attached " + msg.name
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		m.conv.Scroll(m.vp.YOffset)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	// Блокирующее уведомление ждёт подтверждения.
	if m.notice != nil {
		switch msg.String() {
		case "enter", "esc", "q":
			m.notice = nil
			if m.finished {
				return m, tea.Quit
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "pgup", "pgdown", "ctrl+home", "ctrl+end":
		switch msg.String() {
		case "pgup":
			m.vp.SetYOffset(m.vp.YOffset - m.vp.Height)
		case "pgdown":
			m.vp.SetYOffset(m.vp.YOffset + m.vp.Height)
		case "ctrl+home":
			m.vp.GotoTop()
		case "ctrl+end":
			m.vp.GotoBottom()
		}
		m.conv.Scroll(m.vp.YOffset)
		return m, nil
	case "ctrl+up":
		m.moveSelection(-1)
		return m, nil
	case "ctrl+down":
		m.moveSelection(1)
		return m, nil
	case "ctrl+r":
		m.replyToSelected()
		return m, nil
	case "ctrl+x":
		m.deleteSelected()
		return m, nil
	case "ctrl+o":
		m.showMedia = !m.showMedia
		m.resize()
		m.refresh()
		return m, nil
	case "esc":
		switch {
		case m.selectedID != "":
			m.selectedID = ""
			m.refresh()
		case m.conv.Composer().Reply() != nil:
			m.conv.Composer().CancelReply()
		default:
			m.conv.Composer().ClearAttachment()
		}
		m.status = ""
		return m, nil
	case "enter":
		return m.submit()
	}

	if m.sending {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != m.lastDraft {
		m.lastDraft = v
		m.conv.SetDraft(v)
	}
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.sending {
		return m, nil
	}
	if c, ok := parseCommand(m.input.Value()); ok {
		m.clearInput()
		m.conv.SetDraft("")
		return m.runCommand(c)
	}

	m.clearInput()
	if att := m.conv.Composer().Attachment(); att != nil && att.Kind.IsMedia() {
		// Загрузка может занять время: ввод блокируется до sentMsg.
		m.sending = true
		m.status = "uploading " + att.Name + "…"
		ctx, conv := m.ctx, m.conv
		return m, func() tea.Msg { return sentMsg{err: conv.Send(ctx)} }
	}
	if err := m.conv.Send(m.ctx); err != nil {
		m.restoreDraft()
	}
	return m, nil
}

// clearInput empties the textarea without touching the composer draft, which
// Send consumes on its own.
func (m *Model) clearInput() {
	m.input.Reset()
	m.lastDraft = ""
}

func (m *Model) restoreDraft() {
	d := m.conv.Composer().Draft()
	m.input.SetValue(d)
	m.lastDraft = d
}

type command struct {
	name string
	arg  string
}

// parseCommand recognizes "/name arg". A leading "//" is literal text.
func parseCommand(s string) (command, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(s[1:], " ")
	if name == "" {
		return command{}, false
	}
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

func (m Model) runCommand(c command) (tea.Model, tea.Cmd) {
	comp := m.conv.Composer()
	switch c.name {
	case "quit", "q":
		return m, tea.Quit
	case "logout":
		m.logout = true
		return m, tea.Quit
	case "image", "audio":
		if c.arg == "" {
			m.status = "usage: /" + c.name + " <path>"
			return m, nil
		}
		return m, attachFile(comp.SelectImage, comp.SelectAudio, c.name, c.arg)
	case "sticker", "custom":
		if c.arg == "" {
			m.status = "recent: " + strings.Join(comp.RecentStickers(), " ")
			return m, nil
		}
		ctx, conv, custom := m.ctx, m.conv, c.name == "custom"
		return m, func() tea.Msg {
			_, err := conv.Composer().SendSticker(ctx, c.arg, custom)
			conv.Report(err)
			return sentMsg{}
		}
	case "media":
		m.showMedia = !m.showMedia
		m.resize()
		m.refresh()
		return m, nil
	case "clear":
		comp.ClearAttachment()
		comp.CancelReply()
		m.status = ""
		return m, nil
	}
	m.status = fmt.Sprintf("unknown command /%s", c.name)
	return m, nil
}

func attachFile(image, audio func(string, []byte) error, kind, path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Errorf("tui: read %s: %v", path, err)
			return attachMsg{err: fmt.Errorf("tui.attach: %w", err)}
		}
		name := filepath.Base(path)
		sel := image
		if kind == "audio" {
			sel = audio
		}
		if err := sel(name, data); err != nil {
			return attachMsg{err: err}
		}
		return attachMsg{name: name}
	}
}

func (m *Model) moveSelection(delta int) {
	if len(m.msgs) == 0 {
		return
	}
	i := m.indexOf(m.selectedID)
	switch {
	case i < 0:
		i = len(m.msgs) - 1
	default:
		i += delta
	}
	if i < 0 {
		i = 0
	}
	if i >= len(m.msgs) {
		i = len(m.msgs) - 1
	}
	m.selectedID = m.msgs[i].ID
	m.refresh()
	if i < len(m.starts) {
		if s := m.starts[i]; s < m.vp.YOffset || s >= m.vp.YOffset+m.vp.Height {
			m.vp.SetYOffset(s)
			m.conv.Scroll(m.vp.YOffset)
		}
	}
}

func (m *Model) selected() (model.Message, bool) {
	i := m.indexOf(m.selectedID)
	if i < 0 {
		return model.Message{}, false
	}
	return m.msgs[i], true
}

func (m *Model) replyToSelected() {
	sel, ok := m.selected()
	if !ok {
		m.status = "select a message with ctrl+↑ first"
		return
	}
	if err := m.conv.Composer().ReplyTo(sel); err != nil {
		m.conv.Report(err)
		return
	}
	m.selectedID = ""
	m.refresh()
}

func (m *Model) deleteSelected() {
	sel, ok := m.selected()
	if !ok {
		return
	}
	if sel.Username != m.conv.Username() {
		m.status = "You can only delete your own messages"
		return
	}
	m.conv.Delete(sel.ID)
	m.selectedID = ""
}

func (m *Model) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.msgs {
		if m.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) resize() {
	if m.width == 0 {
		return
	}
	w := m.width
	if m.showMedia {
		w -= mediaWidth + 2
	}
	h := m.height - chromeHeight - inputHeight
	if h < 3 {
		h = 3
	}
	m.vp.Width, m.vp.Height = w, h
	m.input.SetWidth(m.width)
	m.ready = true
}

// refresh re-renders the log from a fresh snapshot. The view follows the tail
// when it was at the bottom and keeps the top message in place when a history
// page was inserted above.
func (m *Model) refresh() {
	topID, within := m.topVisible()
	atBottom := m.vp.AtBottom()

	st := m.conv.Store().State()
	m.msgs = st.Messages()
	m.outbox = len(st.Outbox())
	pending := make(map[string]bool)
	for _, id := range st.PendingDeletes() {
		pending[id] = true
	}
	if m.indexOf(m.selectedID) < 0 {
		m.selectedID = ""
	}

	content, starts := layout(m.msgs, m.conv.Username(), m.vp.Width, m.indexOf(m.selectedID), pending)
	m.starts = starts
	m.vp.SetContent(content)

	if added := m.anchor.take(); added > 0 && topID != "" {
		if i := m.indexOf(topID); i >= 0 {
			m.vp.SetYOffset(starts[i] + within)
			return
		}
	}
	if atBottom {
		m.vp.GotoBottom()
	}
}

// topVisible returns the message at the top of the viewport and how many of
// its rows are scrolled past.
func (m *Model) topVisible() (string, int) {
	off := m.vp.YOffset
	for i := len(m.starts) - 1; i >= 0; i-- {
		if m.starts[i] <= off && i < len(m.msgs) {
			return m.msgs[i].ID, off - m.starts[i]
		}
	}
	return "", 0
}

func (m Model) View() string {
	if !m.ready {
		return "connecting…"
	}
	if m.notice != nil {
		text := errorStyle.Render(m.notice.Text) + "\n\n" + mutedStyle.Render("press enter to continue")
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modalStyle.Render(text))
	}

	header := headerStyle.Width(m.width).Render("duochat · " + m.conv.Username())
	log := m.vp.View()
	if m.showMedia {
		side := mediaPanel(m.conv.Media(), mediaWidth)
		log = lipgloss.JoinHorizontal(lipgloss.Top, log, side)
	}

	comp := m.conv.Composer()
	status := m.status
	if m.outbox > 0 && status == "" {
		status = fmt.Sprintf("sending %d…", m.outbox)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		log,
		mutedStyle.Render(m.typing),
		statusStyle.Render(attachmentLine(comp.Attachment(), comp.Reply())),
		statusStyle.Render(status),
		m.input.View(),
	)
}

// Run shows conv until the user quits or the connection gives up. The
// conversation loop runs alongside the program and is stopped on exit.
func Run(ctx context.Context, conv *chat.Conversation, anchor *Anchor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(ctx, conv, anchor), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithReportFocus())
	runErr := make(chan error, 1)
	go func() {
		err := conv.Run(ctx)
		runErr <- err
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	cancel()
	rerr := <-runErr
	if err != nil {
		return fmt.Errorf("tui.Run: %w", err)
	}
	if fm, ok := final.(Model); ok && fm.logout {
		return ErrLogout
	}
	return rerr
}
