package setup

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-server/internal/database"
)

// CLI provides the pgxkb command-line interface.
type CLI struct {
	out      io.Writer
	logger   *logrus.Logger
	defaults Target
}

// NewCLI creates a CLI writing human output to out. defaults is the store
// used when --dialect and --dsn are not given.
func NewCLI(out io.Writer, logger *logrus.Logger, defaults Target) *CLI {
	return &CLI{
		out:      out,
		logger:   logger,
		defaults: defaults,
	}
}

// Run executes the command named by args[0].
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "migrate":
		return c.migrate(ctx, args[1:])
	case "seed":
		return c.seed(ctx, args[1:])
	case "export":
		return c.export(ctx, args[1:])
	case "validate":
		return c.validate(args[1:])
	case "status":
		return c.status(ctx, args[1:])
	case "register-desktop":
		return c.registerDesktop(args[1:])
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		c.showHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func (c *CLI) showHelp() error {
	fmt.Fprint(c.out, `
PharmaGuard reference store tool

Usage:
  pgxkb <command> [options]

Commands:
  migrate [up|down|version]  Apply, roll back or show schema migrations
  seed [--file path]         Load a YAML knowledge base into the store (embedded by default)
  export [--out path]        Write the stored knowledge base as YAML
  validate [--file path]     Check a YAML knowledge base without touching a store
  status                     Show the stored version and row counts
  register-desktop           Add the MCP server to Claude Desktop

Store options (all store commands):
  --dialect sqlite|postgres
  --dsn     SQLite file path or postgres:// URL

Environment:
  PHARMAGUARD_KB_SOURCE, PHARMAGUARD_KB_PATH, PHARMAGUARD_KB_DSN select the default store.
`)
	return nil
}

func (c *CLI) flagSet(name string) (*flag.FlagSet, *Target) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	target := c.defaults
	fs.StringVar(&target.Dialect, "dialect", target.Dialect, "store dialect: sqlite or postgres")
	fs.StringVar(&target.DSN, "dsn", target.DSN, "SQLite path or postgres:// URL")
	return fs, &target
}

func (c *CLI) migrate(ctx context.Context, args []string) error {
	fs, target := c.flagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	action := fs.Arg(0)
	if action == "version" {
		version, dirty, err := SchemaVersion(*target, c.logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Store:          %s\n", target)
		fmt.Fprintf(c.out, "Schema version: %d\n", version)
		if dirty {
			fmt.Fprintln(c.out, "Status:         dirty")
		}
		return nil
	}

	version, err := Migrate(ctx, *target, action, c.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ %s migrated to schema version %d\n", target, version)
	return nil
}

func (c *CLI) seed(ctx context.Context, args []string) error {
	fs, target := c.flagSet("seed")
	file := fs.String("file", "", "YAML knowledge base (embedded when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	doc, err := LoadDocument(*file)
	if err != nil {
		return err
	}
	summary, err := Seed(ctx, *target, doc, c.logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "✓ Seeded %s with knowledge base %s\n", target, summary.Version)
	fmt.Fprintf(c.out, "  Genes: %d  Drugs: %d  Guidelines: %d\n", summary.Genes, summary.Drugs, summary.Guidelines)
	return nil
}

func (c *CLI) export(ctx context.Context, args []string) error {
	fs, target := c.flagSet("export")
	outPath := fs.String("out", "", "output file (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := c.out
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *outPath, err)
		}
		defer f.Close()
		w = f
	}
	return Export(ctx, *target, w, c.logger)
}

func (c *CLI) validate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(c.out)
	file := fs.String("file", "", "YAML knowledge base (embedded when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	kb, err := ValidateDocument(*file)
	if err != nil {
		fmt.Fprintf(c.out, "✗ Knowledge base is invalid: %v\n", err)
		return err
	}
	fmt.Fprintf(c.out, "✓ Knowledge base %s is valid\n", kb.Version())
	fmt.Fprintf(c.out, "  Genes: %s\n", strings.Join(kb.Genes(), ", "))
	fmt.Fprintf(c.out, "  Drugs: %d  Guidelines: %d\n", len(kb.Drugs()), kb.GuidelineCount())
	return nil
}

func (c *CLI) status(ctx context.Context, args []string) error {
	fs, target := c.flagSet("status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	version, dirty, err := SchemaVersion(*target, c.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Store:          %s\n", target)
	fmt.Fprintf(c.out, "Schema version: %d\n", version)
	if version == 0 {
		fmt.Fprintln(c.out, "Status:         not migrated (run: pgxkb migrate)")
		return nil
	}
	if dirty {
		fmt.Fprintln(c.out, "Status:         dirty")
		return nil
	}

	summary, err := Status(ctx, *target, c.logger)
	if err != nil {
		return err
	}
	if summary.Version == "" {
		fmt.Fprintln(c.out, "Status:         empty (run: pgxkb seed)")
		return nil
	}
	fmt.Fprintf(c.out, "Knowledge base: %s (seeded %s)\n", summary.Version, summary.SeededAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(c.out, "Genes: %d  Drugs: %d  Guidelines: %d\n", summary.Genes, summary.Drugs, summary.Guidelines)
	return nil
}

func (c *CLI) registerDesktop(args []string) error {
	fs, target := c.flagSet("register-desktop")
	binary := fs.String("binary", "", "path to the mcp-server binary (searched when empty)")
	configPath := fs.String("config", "", "Claude Desktop config file (platform default when empty)")
	embedded := fs.Bool("embedded", false, "serve the embedded knowledge base instead of the store")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env := map[string]string{}
	if !*embedded {
		switch target.Dialect {
		case database.DialectSQLite:
			env["PHARMAGUARD_KB_SOURCE"] = database.DialectSQLite
			env["PHARMAGUARD_KB_PATH"] = target.DSN
		case database.DialectPostgres:
			env["PHARMAGUARD_KB_SOURCE"] = database.DialectPostgres
			env["PHARMAGUARD_KB_DSN"] = target.DSN
		}
	}

	path, err := RegisterDesktop(RegisterOptions{
		ConfigPath: *configPath,
		BinaryPath: *binary,
		Env:        env,
	})
	if err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	fmt.Fprintf(c.out, "✓ Registered %q in %s\n", DesktopServerName, path)
	fmt.Fprintln(c.out, "  Restart Claude Desktop to load the new configuration.")
	return nil
}
