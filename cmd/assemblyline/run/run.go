package run

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string

	root     string
	glob     string
	query    string
	postgres string

	selector string
	xpath    string
	maxText  int
	script   string

	out            string
	table          string
	skipDuplicates bool
	webhook        string

	admin     bool
	adminAddr string
	logLevel  string
}

// NewCmd creates the run command
func NewCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until every source is exhausted",
		Long: `Run walks --root (or runs --query against --postgres), transforms every
record and writes the results to the configured sinks. Without a sink the
records are written as JSON lines to stdout.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return execute(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or TOML config file")
	f.StringVar(&opts.root, "root", "", "Directory to walk")
	f.StringVar(&opts.glob, "glob", "", "Doublestar pattern matched against paths relative to --root")
	f.StringVar(&opts.query, "query", "", "SQL query whose rows are the source records")
	f.StringVar(&opts.postgres, "postgres", "", "Postgres connection string")
	f.StringVar(&opts.selector, "selector", "", "CSS selector of the HTML text root")
	f.StringVar(&opts.xpath, "xpath", "", "XPath of the HTML text root, overrides --selector")
	f.IntVar(&opts.maxText, "max-text", 0, "Truncate extracted text to this many bytes")
	f.StringVar(&opts.script, "script", "", "JavaScript file defining transform(record)")
	f.StringVarP(&opts.out, "out", "o", "", `JSON lines output file, "-" for stdout`)
	f.StringVar(&opts.table, "table", "", "Postgres table receiving the records")
	f.BoolVar(&opts.skipDuplicates, "skip-duplicates", false, "Ignore unique violations when inserting")
	f.StringVar(&opts.webhook, "webhook", "", "URL every record is posted to")
	f.BoolVar(&opts.admin, "admin", false, "Serve the admin API while running")
	f.StringVar(&opts.adminAddr, "admin-addr", "", "Admin API listen address")
	f.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	return cmd
}

func (o options) validate() error {
	switch {
	case o.root == "" && o.query == "":
		return usageError("one of --root or --query is required")
	case o.root != "" && o.query != "":
		return usageError("--root and --query are mutually exclusive")
	case o.query != "" && o.postgres == "":
		return usageError("--query requires --postgres")
	case o.table != "" && o.postgres == "":
		return usageError("--table requires --postgres")
	}
	return nil
}
