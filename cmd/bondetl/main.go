package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/ClickHouse/clickhouse-go"
	_ "github.com/go-sql-driver/mysql"
	"github.com/milkywaybrain/bondetl/internal/apperr"
	"github.com/milkywaybrain/bondetl/internal/config"
	"github.com/milkywaybrain/bondetl/internal/initializer"
	"github.com/urfave/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

const exitCodes = `Exit codes:
   0  success
   1  invalid arguments
   2  configuration error
   3  connection error
   4  extraction error
   5  transformation error
   6  loading error
   7  insufficient memory
   8  another instance is running
   9  unexpected error`

func main() {
	app := cli.NewApp()
	app.Name = "bondetl"
	app.Usage = "load XBond quotes, XBond trades and bond futures ticks into ClickHouse, one business day at a time"
	app.ArgsUsage = "START_DATE END_DATE [CONFIG_FILE]"
	app.Version = version
	app.Description = "Dates are YYYYMMDD (or YYYY-MM-DD), both inclusive. CONFIG_FILE defaults to " + config.DefaultPath + ".\n\n" + exitCodes
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "dry-run",
			Usage: "print merged records on the terminal instead of loading them",
		},
	}
	app.Action = run

	// Action errors exit through cli.ExitCoder, anything left is a flag parsing error.
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(apperr.InvalidArgs.ExitCode())
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		cli.ShowAppHelpAndExit(c, 0)
		return nil
	}
	if c.NArg() < 2 || c.NArg() > 3 {
		return exit(apperr.Newf(apperr.InvalidArgs, "arguments", "usage: %s %s", c.App.Name, c.App.ArgsUsage))
	}
	start, err := parseDate(c.Args().Get(0))
	if err != nil {
		return exit(apperr.New(apperr.InvalidArgs, "start date", err))
	}
	end, err := parseDate(c.Args().Get(1))
	if err != nil {
		return exit(apperr.New(apperr.InvalidArgs, "end date", err))
	}
	if start.After(end) {
		return exit(apperr.Newf(apperr.InvalidArgs, "date range", "start date %s is after end date %s", c.Args().Get(0), c.Args().Get(1)))
	}

	// Load config file values.
	cfgPath := config.DefaultPath
	if c.NArg() == 3 {
		cfgPath = c.Args().Get(2)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return exit(apperr.New(apperr.Configuration, cfgPath, err))
	}
	if c.Bool("dry-run") {
		cfg.Pipeline.DryRun = true
	}
	if err = cfg.Validate(); err != nil {
		return exit(apperr.New(apperr.Configuration, cfgPath, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the app.
	if err = initializer.Start(ctx, cfg, start, end); err != nil {
		return exit(err)
	}
	return nil
}

// exit attaches the process exit code of the error kind.
func exit(err error) error {
	return cli.NewExitError("bondetl: "+err.Error(), apperr.KindOf(err).ExitCode())
}

func parseDate(s string) (time.Time, error) {
	layout := "20060102"
	if strings.Contains(s, "-") {
		layout = "2006-01-02"
	}
	return time.Parse(layout, strings.TrimSpace(s))
}
