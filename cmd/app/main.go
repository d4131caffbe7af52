package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/skillnotes/internal"
	"github.com/starford/skillnotes/internal/identity"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/session"
	pkgconfig "github.com/starford/skillnotes/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// withApp runs fn against a resolved session. Logs go to stderr so stdout
// stays free for command output and the MCP transport.
func withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.New(
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
		internal.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer app.Close()
	if _, err := app.Ready(ctx); err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	return fn(ctx, app)
}

func login(ctx context.Context, cmd *cli.Command) error {
	email, password := cmd.String("email"), cmd.String("password")
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		s, err := app.Sessions.SignIn(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n", s.Email, s.UserID)
		return nil
	})
}

func logout(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		err := app.Sessions.SignOut(ctx)
		var w *session.Warning
		if errors.As(err, &w) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", w)
		} else if err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil
	})
}

func whoami(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		s := app.Sessions.Current()
		if s == nil {
			fmt.Println("not signed in")
			return nil
		}
		fmt.Printf("%s (%s), token valid until %s\n", s.Email, s.UserID, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	})
}

func listNotes(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		var (
			notes []models.NoteArtifact
			next  string
		)
		if cmd.Bool("mine") {
			page, err := app.Notes.ListMine(ctx, cmd.String("cursor"))
			if err != nil {
				return err
			}
			notes, next = page.Items, page.NextCursor
		} else {
			page, err := app.Notes.ListNotes(ctx, cmd.String("subject"), cmd.String("cursor"))
			if err != nil {
				return err
			}
			notes, next = page.Items, page.NextCursor
		}
		for _, n := range notes {
			fmt.Printf("%s\t%s\t%s sem %d\t%s\n", n.ID, n.Title, n.Subject, n.Semester, n.FileURL)
		}
		if next != "" {
			fmt.Printf("next: --cursor %s\n", next)
		}
		return nil
	})
}

func publishNote(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("a file to publish is required")
	}
	fields := models.NoteFields{
		Title:       cmd.String("title"),
		Description: cmd.String("description"),
		College:     cmd.String("college"),
		Stream:      cmd.String("stream"),
		Branch:      cmd.String("branch"),
		Subject:     cmd.String("subject"),
		IsPublic:    !cmd.Bool("private"),
	}
	if s := cmd.String("semester"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("semester must be a number: %w", err)
		}
		fields.Semester = n
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		n, err := app.Notes.Publish(ctx, models.Upload{Name: filepath.Base(path), Data: data}, fields)
		if err != nil {
			return err
		}
		fmt.Printf("published %s\n%s\n", n.ID, n.FileURL)
		return nil
	})
}

func retractNote(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("a note id is required")
	}
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		if err := app.Notes.Retract(ctx, id); err != nil {
			return err
		}
		fmt.Printf("retracted %s\n", id)
		return nil
	})
}

func updateNote(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("a note id is required")
	}
	var patch models.NoteUpdate
	set := func(name string) *string {
		if !cmd.IsSet(name) {
			return nil
		}
		v := cmd.String(name)
		return &v
	}
	patch.Title = set("title")
	patch.Description = set("description")
	patch.College = set("college")
	patch.Stream = set("stream")
	patch.Branch = set("branch")
	patch.Subject = set("subject")
	if s := set("semester"); s != nil {
		n, err := strconv.Atoi(*s)
		if err != nil {
			return fmt.Errorf("semester must be a number: %w", err)
		}
		patch.Semester = &n
	}
	if cmd.IsSet("public") {
		v := cmd.Bool("public")
		patch.IsPublic = &v
	}
	return withApp(ctx, cmd, func(ctx context.Context, app *internal.App) error {
		n, err := app.Notes.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		fmt.Printf("updated %s\n", n.ID)
		return nil
	})
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.New(
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
		internal.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.ServeMCP(ctx)
}

func hashPassword(_ context.Context, cmd *cli.Command) error {
	password := cmd.Args().First()
	if password == "" {
		return errors.New("a password is required")
	}
	h, err := identity.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "skillnotes",
		Usage:  "Publish and browse study notes",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the web server",
				Action: serve,
			},
			{
				Name:   "login",
				Usage:  "Sign in and store the session",
				Action: login,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Sources: cli.EnvVars("SKILLNOTES_EMAIL")},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Sources: cli.EnvVars("SKILLNOTES_PASSWORD")},
				},
			},
			{
				Name:   "logout",
				Usage:  "Sign out and remove the stored session",
				Action: logout,
			},
			{
				Name:   "whoami",
				Usage:  "Show the signed-in user",
				Action: whoami,
			},
			{
				Name:   "notes",
				Usage:  "List public notes, or your own with --mine",
				Action: listNotes,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "mine", Usage: "List your own notes, private ones included"},
					&cli.StringFlag{Name: "subject", Usage: "Filter public notes by subject"},
					&cli.StringFlag{Name: "cursor", Usage: "Cursor of the next page"},
				},
			},
			{
				Name:      "publish",
				Usage:     "Publish a file as a note",
				ArgsUsage: "<file>",
				Action:    publishNote,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "college"},
					&cli.StringFlag{Name: "stream"},
					&cli.StringFlag{Name: "branch"},
					&cli.StringFlag{Name: "semester"},
					&cli.StringFlag{Name: "subject"},
					&cli.BoolFlag{Name: "private", Usage: "Only you can see the note"},
				},
			},
			{
				Name:      "retract",
				Usage:     "Delete one of your notes",
				ArgsUsage: "<id>",
				Action:    retractNote,
			},
			{
				Name:      "update",
				Usage:     "Change metadata of one of your notes",
				ArgsUsage: "<id>",
				Action:    updateNote,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "college"},
					&cli.StringFlag{Name: "stream"},
					&cli.StringFlag{Name: "branch"},
					&cli.StringFlag{Name: "semester"},
					&cli.StringFlag{Name: "subject"},
					&cli.BoolFlag{Name: "public", Usage: "Set visibility; --public=false hides the note"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:      "hash-password",
				Usage:     "Print a bcrypt hash for a local user entry",
				ArgsUsage: "<password>",
				Action:    hashPassword,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
