package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	"github.com/starford/ansuz/internal/authsession"
	"github.com/starford/ansuz/internal/blob"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/noterepo"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/reminder"
	"github.com/starford/ansuz/internal/session"
	"github.com/starford/ansuz/internal/transcribe"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

// client bundles the wired components of one CLI invocation.
type client struct {
	cfg        *internal.Config
	auth       *authsession.Manager
	repo       *noterepo.Repository
	controller *session.Controller
	closers    []func() error
}

func (c *client) close() {
	c.controller.Close()
	for _, fn := range c.closers {
		_ = fn()
	}
}

// buildClient loads the config and wires the store variant it selects.
// source is the audio input for the capture device; nil is fine for
// commands that never record.
func buildClient(cmd *cli.Command, source io.Reader) (*client, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	auth, err := authsession.NewManager(cfg.Remote.BaseURL, cfg.Remote.Timeout, cfg.App.StateDir)
	if err != nil {
		return nil, err
	}

	c := &client{cfg: cfg, auth: auth}

	var store notestore.Store
	switch cfg.Storage.Mode {
	case internal.StorageModeRemote:
		store = notestore.NewRemote(cfg.Remote.BaseURL, cfg.Remote.Timeout, auth.Credential)
	default:
		blobs, err := blob.NewDir(cfg.Storage.BlobDir)
		if err != nil {
			return nil, err
		}
		local, err := notestore.OpenLocal(cfg.Storage.SQLitePath, blobs)
		if err != nil {
			return nil, err
		}
		if cfg.Transcribe.BaseURL != "" {
			local = local.WithTranscriber(transcribe.NewClient(cfg.Transcribe.BaseURL, cfg.Transcribe.APIKey, cfg.Transcribe.Model))
		}
		c.closers = append(c.closers, local.Close)
		store = local
	}

	c.repo = noterepo.NewRepository(store, nil)
	device := capture.NewReaderDevice(source, cfg.Capture.ChunkSize)
	rec := capture.NewSession(device, cfg.Capture.ChunkInterval, cfg.Capture.MIMEType)
	c.controller = session.NewController(rec, auth, c.repo)
	return c, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the note backend (token, register, notes, transcription, events)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := internal.NewDefaultConfig()
			if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
				return fmt.Errorf("failed to parse config: %w", err)
			}
			return internal.Run(ctx, internal.WithConfig(cfg))
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account on the remote backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Display name"},
			&cli.StringFlag{Name: "email", Required: true, Usage: "Account email"},
			&cli.StringFlag{Name: "password", Required: true, Usage: "Account password"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()
			if err := c.auth.Register(ctx, cmd.String("name"), cmd.String("email"), cmd.String("password")); err != nil {
				return err
			}
			fmt.Println("registered; you can now log in")
			return nil
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Exchange credentials for a bearer token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "Account email"},
			&cli.StringFlag{Name: "password", Required: true, Usage: "Account password"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()
			if err := c.auth.Login(ctx, cmd.String("email"), cmd.String("password")); err != nil {
				return err
			}
			fmt.Printf("logged in as %s\n", cmd.String("email"))
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Clear the persisted auth session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()
			return c.auth.Logout()
		},
	}
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Capture audio and save it as a note",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Audio source file ('-' for stdin, e.g. piped from arecord)", Value: "-"},
			&cli.StringFlag{Name: "tags", Aliases: []string{"t"}, Required: true, Usage: "Comma-delimited tags (at least one)"},
			&cli.StringFlag{Name: "reminder", Usage: "Optional reminder instant (RFC 3339 or YYYY-MM-DDTHH:MM local)"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Stop automatically after this long (default: on Ctrl-C)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var rem *time.Time
			if raw := cmd.String("reminder"); raw != "" {
				t, err := parseInstant(raw)
				if err != nil {
					return fmt.Errorf("invalid reminder %q: %w", raw, err)
				}
				rem = &t
			}

			source := io.Reader(os.Stdin)
			if in := cmd.String("input"); in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()
				source = f
			}

			c, err := buildClient(cmd, source)
			if err != nil {
				return err
			}
			defer c.close()

			if err := c.controller.StartRecording(); err != nil {
				return err
			}
			fmt.Println("recording... press Ctrl-C to stop")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)

			var timeout <-chan time.Time
			if d := cmd.Duration("duration"); d > 0 {
				timer := time.NewTimer(d)
				defer timer.Stop()
				timeout = timer.C
			}

		loop:
			for {
				select {
				case secs, ok := <-c.controller.Elapsed():
					if !ok {
						break loop
					}
					fmt.Printf("\r%02d:%02d", secs/60, secs%60)
				case <-stop:
					break loop
				case <-timeout:
					break loop
				case <-ctx.Done():
					break loop
				}
			}
			fmt.Println()

			artifact := c.controller.StopRecording()
			if artifact == nil || len(artifact.Data) == 0 {
				_ = c.controller.DiscardRecording()
				return fmt.Errorf("no audio captured")
			}

			note, err := c.controller.SaveNote(ctx, cmd.String("tags"), rem)
			if err != nil {
				return err
			}
			fmt.Printf("saved note %s (%d bytes, tags: %s)\n", note.ID, len(artifact.Data), cmd.String("tags"))
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List notes, optionally filtered by tag query and date",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Whitespace-separated tag tokens"},
			&cli.StringFlag{Name: "date", Usage: "Calendar date filter (YYYY-MM-DD), or 'all'"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			if err := c.controller.Refresh(ctx); err != nil {
				return err
			}
			c.controller.SetFilter(cmd.String("query"), cmd.String("date"))

			vm := c.controller.ViewModel(time.Now())
			if len(vm.Notes) == 0 {
				fmt.Println("no notes")
				return nil
			}
			for _, n := range vm.Notes {
				line := fmt.Sprintf("%s  %s  [%s]", n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), strings.Join(n.Tags, ", "))
				if n.Reminder.Kind != reminder.None {
					line += fmt.Sprintf("  reminder %s at %s", n.Reminder.Kind, n.Reminder.At.Local().Format("2006-01-02 15:04"))
				}
				fmt.Println(line)
				if n.Transcription != "" {
					fmt.Printf("    %s\n", n.Transcription)
				}
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a note by id",
		ArgsUsage: "<note-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("note id is required")
			}
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()
			if err := c.controller.DeleteNote(ctx, id); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", id)
			return nil
		},
	}
}

func transcribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "transcribe",
		Usage:     "Request a transcription for a note",
		ArgsUsage: "<note-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("note id is required")
			}
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()
			text, err := c.controller.TranscribeNote(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve note tools over the Model Context Protocol on stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := buildClient(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()
			return mcpserver.New(c.repo).ServeStdio()
		},
	}
}

// parseInstant accepts RFC 3339 or a local datetime without zone.
func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04", raw, time.Local)
}
