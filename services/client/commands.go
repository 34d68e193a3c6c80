package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duochat/internal/chat"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/media"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/tui"
)

const sendTimeout = 30 * time.Second

func init() {
	loginCmd.Flags().StringP("username", "u", "", "username")
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when empty)")

	historyCmd.Flags().Int("page", 1, "history page, 1 is the newest")

	sendCmd.Flags().String("image", "", "attach an image file")
	sendCmd.Flags().String("audio", "", "attach a voice message file")
	sendCmd.Flags().String("sticker", "", "send a sticker reference")
	sendCmd.Flags().Bool("custom", false, "the sticker is a custom sticker")

	stickerUploadCmd.Flags().String("pack", model.DefaultCustomPack, "pack the sticker is added to")
	stickersCmd.AddCommand(stickerUploadCmd, stickerRecentCmd)

	mediaCmd.Flags().Int("pages", 1, "how many history pages to index")

	rootCmd.AddCommand(loginCmd, logoutCmd, chatCmd, historyCmd, sendCmd, stickersCmd, mediaCmd)
}

// withApp runs fn with a ready app and a context cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a, args)
	}
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check the server and remember who you are",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		in := bufio.NewReader(cmd.InOrStdin())
		if username == "" {
			username = prompt(in, cmd.OutOrStdout(), "Username: ")
		}
		if password == "" {
			password = prompt(in, cmd.OutOrStdout(), "Password: ")
		}
		return withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			err := chat.Login(ctx, a.api, a.prefs, model.Credentials{Username: username, Password: password})
			if err != nil {
				return errors.New(chat.Classify(err).Text)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", strings.TrimSpace(username))
			return nil
		})(cmd, args)
	},
}

func prompt(in *bufio.Reader, out io.Writer, label string) string {
	fmt.Fprint(out, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the remembered user",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		if err := chat.Logout(ctx, a.prefs); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	}),
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the conversation in the terminal",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		closeLog, err := logToFile(a.cfg.LogFile, a.cfg.StoragePath)
		if err != nil {
			return err
		}
		defer closeLog()

		anchor := &tui.Anchor{}
		conv := a.conversation(user, anchor.Add)
		err = tui.Run(ctx, conv, anchor)
		if errors.Is(err, tui.ErrLogout) {
			if err := chat.Logout(ctx, a.prefs); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		}
		if err != nil {
			return errors.New(chat.Classify(err).Text)
		}
		return nil
	}),
}

// logToFile diverts logs away from the terminal while the TUI owns it.
func logToFile(path, storagePath string) (func(), error) {
	if path == "" {
		path = filepath.Join(filepath.Dir(storagePath), "duochat.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	logger.SetOutput(f)
	return func() {
		logger.Flush()
		logger.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print one page of history",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		page, _ := cmd.Flags().GetInt("page")
		if page < 1 {
			page = 1
		}
		p, err := a.api.FetchPage(ctx, page)
		if err != nil {
			return errors.New(chat.Classify(err).Text)
		}
		for _, m := range p.Messages {
			fmt.Println(describe(m, a.api.Resolve))
		}
		if p.HasMore {
			fmt.Printf("-- more: duochat history --page %d\n", page+1)
		}
		return nil
	}),
}

// describe renders m as one plain line for non-interactive output.
func describe(m model.Message, resolve func(string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", m.Timestamp.Local().Format("2006-01-02 15:04"), m.Username)
	if m.ReplyTo != nil {
		fmt.Fprintf(&b, "(↪ %s: %s) ", m.ReplyTo.Username, m.ReplyTo.Summary())
	}
	switch m.Kind {
	case model.KindText:
		b.WriteString(m.Text)
	case model.KindDeleted:
		b.WriteString(model.DeletedPlaceholder)
	default:
		fmt.Fprintf(&b, "<%s> %s", m.Kind, resolve(m.Text))
	}
	return b.String()
}

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send one message and wait for the server to echo it",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		image, _ := cmd.Flags().GetString("image")
		audio, _ := cmd.Flags().GetString("audio")
		sticker, _ := cmd.Flags().GetString("sticker")
		custom, _ := cmd.Flags().GetBool("custom")
		text := strings.Join(args, " ")
		if text == "" && image == "" && audio == "" && sticker == "" {
			return errors.New("nothing to send")
		}

		conv := a.conversation(user, nil)
		comp := conv.Composer()
		switch {
		case image != "":
			data, err := os.ReadFile(image)
			if err != nil {
				return err
			}
			if err := comp.SelectImage(filepath.Base(image), data); err != nil {
				return err
			}
		case audio != "":
			data, err := os.ReadFile(audio)
			if err != nil {
				return err
			}
			if err := comp.SelectAudio(filepath.Base(audio), data); err != nil {
				return err
			}
		case sticker != "":
			comp.SelectSticker(sticker, custom)
		}
		return sendOnce(ctx, conv, text)
	}),
}

// sendOnce runs conv until its initial load, sends the composed message and
// waits for the echo that clears the outbox.
func sendOnce(ctx context.Context, conv *chat.Conversation, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- conv.Run(ctx) }()
	finish := func(err error) error {
		cancel()
		if rerr := <-runErr; err == nil && rerr != nil {
			err = rerr
		}
		return err
	}

	changes := conv.Store().Changes()
	select {
	case <-changes:
	case n := <-conv.Notices():
		return finish(errors.New(n.Text))
	case <-ctx.Done():
		return finish(fmt.Errorf("send: %w", ctx.Err()))
	}

	if text != "" {
		conv.SetDraft(text)
	}
	sent, err := conv.Composer().Send(ctx)
	if err != nil {
		return finish(errors.New(chat.Classify(err).Text))
	}
	if sent == nil {
		return finish(errors.New("nothing to send"))
	}
	for {
		if echoed(conv.Store().Snapshot(), sent.ClientID) {
			return finish(nil)
		}
		select {
		case <-changes:
		case n := <-conv.Notices():
			return finish(errors.New(n.Text))
		case <-ctx.Done():
			return finish(fmt.Errorf("send: no echo from server: %w", ctx.Err()))
		}
	}
}

func echoed(msgs []model.Message, clientID string) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ClientID == clientID {
			return true
		}
	}
	return false
}

var stickersCmd = &cobra.Command{
	Use:   "stickers",
	Short: "List sticker packs",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		packs, err := a.conversation(user, nil).StickerPacks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s (showing cached stickers)\n", chat.Classify(err).Text)
		}
		printPacks(packs)
		return nil
	}),
}

var stickerUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image as a custom sticker",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		pack, _ := cmd.Flags().GetString("pack")
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		packs, err := a.conversation(user, nil).Composer().UploadSticker(ctx, filepath.Base(args[0]), data, pack)
		if err != nil {
			return errors.New(chat.Classify(err).Text)
		}
		printPacks(packs)
		return nil
	}),
}

var stickerRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently sent stickers",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		for _, ref := range a.conversation(user, nil).Composer().RecentStickers() {
			fmt.Println(ref)
		}
		return nil
	}),
}

func printPacks(packs model.StickerPacks) {
	names := make([]string, 0, len(packs))
	for name := range packs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s (%d)\n", name, len(packs[name]))
		for _, s := range packs[name] {
			fmt.Printf("  %s\n", s.Ref())
		}
	}
}

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "List shared images, voice messages and links",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		pages, _ := cmd.Flags().GetInt("pages")
		var msgs []model.Message
		for page := 1; page <= max(pages, 1); page++ {
			p, err := a.api.FetchPage(ctx, page)
			if err != nil {
				return errors.New(chat.Classify(err).Text)
			}
			// Более старые страницы идут перед уже собранными.
			msgs = append(append([]model.Message(nil), p.Messages...), msgs...)
			if !p.HasMore {
				break
			}
		}
		idx := media.Organize(msgs)
		fmt.Printf("Images (%d)\n", len(idx.Images))
		for _, m := range idx.Images {
			size := ""
			if info, err := a.api.ImageInfo(ctx, m.Text); err == nil {
				size = fmt.Sprintf("  %dx%d %s", info.Width, info.Height, info.Format)
			} else {
				logger.Debugf("image info %s: %v", m.Text, err)
			}
			fmt.Printf("  %s  %s%s\n", m.Username, a.api.Resolve(m.Text), size)
		}
		fmt.Printf("Voice (%d)\n", len(idx.Audio))
		for _, m := range idx.Audio {
			fmt.Printf("  %s  %s\n", m.Username, a.api.Resolve(m.Text))
		}
		fmt.Printf("Links (%d)\n", len(idx.Links))
		for _, l := range idx.Links {
			fmt.Printf("  %s  %s\n", l.Username, l.URL)
		}
		return nil
	}),
}
