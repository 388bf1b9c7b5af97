// Command menuctl talks to a running menu translation server: it uploads menu
// photos, prints the translated menu and saves the dish images as they land.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"translatemenu/internal/client"
	"translatemenu/internal/menu"
	"translatemenu/internal/poller"
	"translatemenu/internal/preferences"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Client *client.Client
	Out    io.Writer
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmdName)
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL := os.Getenv("MENUCTL_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	cmdCtx := &commandContext{
		Ctx:    ctx,
		Logger: logger,
		Client: client.New(baseURL, os.Getenv("MENUCTL_TOKEN"), nil),
		Out:    os.Stdout,
	}
	if err := cmd.run(cmdCtx, os.Args[2:]); err != nil {
		logger.ErrorContext(ctx, "command failed", "command", cmdName, "error", err)
		os.Exit(1)
	}
}

func commands() map[string]command {
	return map[string]command{
		"analyze": {
			name:        "analyze",
			description: "Upload menu photos, print the menu and download dish images",
			run:         runAnalyze,
		},
		"preferences": {
			name:        "preferences",
			description: "Save country, language and extra notes for the current user",
			run:         runPreferences,
		},
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: menuctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "MENUCTL_URL and MENUCTL_TOKEN select the server and bearer token.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, cmds[name].description)
	}
}

func runAnalyze(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	outDir := fs.String("out", "", "directory for dish images (skip downloads when empty)")
	attempts := fs.Int("attempts", poller.DefaultConfig.MaxAttempts, "fetch attempts per image")
	interval := fs.Duration("interval", poller.DefaultConfig.Interval, "delay between fetch attempts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("analyze: at least one image path is required")
	}

	files := make([]client.File, 0, fs.NArg())
	for _, p := range fs.Args() {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, client.File{Name: filepath.Base(p), Data: data})
	}

	res, err := ctx.Client.Analyze(ctx.Ctx, files)
	if err != nil {
		return err
	}
	if err := printMenu(ctx.Out, res.Menu); err != nil {
		return err
	}
	if res.GenerationID != "" {
		fmt.Fprintf(ctx.Out, "generation: %s\n", res.GenerationID)
	}
	if *outDir == "" || !res.IsMenu {
		return nil
	}

	cfg := poller.Config{InitialDelay: *interval, Interval: *interval, MaxAttempts: *attempts}
	return downloadImages(ctx, res.Menu, *outDir, cfg)
}

func printMenu(w io.Writer, m menu.Menu) error {
	if !m.IsMenu {
		_, err := fmt.Fprintln(w, "The photos do not look like a menu.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISH\tPRICE\tRECOMMENDED\tIMAGE")
	for _, d := range m.Items {
		price := menu.UnknownPrice
		if d.Price.Known {
			price = fmt.Sprintf("%.2f", d.Price.Amount)
		}
		rec := ""
		if d.Recommended {
			rec = "yes"
		}
		img := ""
		if d.Image != nil {
			img = d.Image.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, price, rec, img)
		if d.Description != "" {
			fmt.Fprintf(tw, "  %s\t\t\t\n", d.Description)
		}
	}
	return tw.Flush()
}

// downloadImages polls every dish image concurrently and saves the ones that
// arrive. Missing images are reported, not treated as failures.
func downloadImages(ctx *commandContext, m menu.Menu, dir string, cfg poller.Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	type pending struct {
		dish   menu.Dish
		handle *poller.Handle
	}
	var jobs []pending
	for _, d := range m.Items {
		if d.Image == nil {
			continue
		}
		jobs = append(jobs, pending{dish: d, handle: ctx.Client.WaitForImage(ctx.Ctx, d.Image.String(), cfg)})
	}
	defer func() {
		for _, j := range jobs {
			_ = j.handle.Close()
		}
	}()

	for i, j := range jobs {
		state, err := j.handle.Wait(ctx.Ctx)
		switch state {
		case poller.StateReady:
		case poller.StateFailed:
			fmt.Fprintf(ctx.Out, "%s: image unavailable\n", j.dish.Name)
			continue
		default:
			return fmt.Errorf("wait for %s: %w", j.dish.Name, err)
		}
		data := j.handle.Bytes()
		name := imageFileName(i, j.dish.Name, http.DetectContentType(data))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		fmt.Fprintf(ctx.Out, "%s: saved %s\n", j.dish.Name, name)
	}
	return nil
}

func imageFileName(index int, dishName, contentType string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(dishName)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "dish"
	}
	ext := ".img"
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("%02d-%s%s", index+1, slug, ext)
}

func runPreferences(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("preferences", flag.ContinueOnError)
	country := fs.String("country", "", "country of origin")
	language := fs.String("language", "", "language to translate into")
	info := fs.String("info", "", "additional notes for the model")
	selected := fs.String("selected", "", "raw JSON with dietary preferences")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := preferences.Preferences{Country: *country, Language: *language, AdditionalInfo: *info}
	if *selected != "" {
		p.SelectedPreferences = []byte(*selected)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	saveCtx, cancel := context.WithTimeout(ctx.Ctx, 30*time.Second)
	defer cancel()
	saved, err := ctx.Client.SavePreferences(saveCtx, p)
	if err != nil {
		return err
	}
	if saved == nil {
		saved = &p
	}
	_, err = fmt.Fprintf(ctx.Out, "saved preferences: country=%s language=%s\n", saved.Country, saved.Language)
	return err
}
