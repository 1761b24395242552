package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Env carries the dependencies shared by every command
type Env struct {
	Out    io.Writer
	Log    *logrus.Logger
	OpenDB func(ctx context.Context) (*sql.DB, error)
	Now    func() time.Time
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Log == nil {
		env.Log = logrus.New()
	}
	if env.Now == nil {
		env.Now = time.Now
	}

	root := &Command{
		Name:        "spokehub-admin",
		Description: "Operator tooling for a spokehub deployment",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("spokehub-admin", flag.ContinueOnError),
		out:         env.Out,
	}

	for _, cmd := range []*Command{
		newKeygenCommand(env),
		newAPIKeyCommand(env),
		newMigrateCommand(env),
		newImportCatalogCommand(env),
		newSeedUserCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// withDB opens the database for the duration of fn
func (e *Env) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	if e.OpenDB == nil {
		return fmt.Errorf("no database configured")
	}
	db, err := e.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
