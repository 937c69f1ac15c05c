package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"votexport/internal/config"
	"votexport/internal/db"
	"votexport/internal/exporters"
	"votexport/internal/pkg/voteapi"
	"votexport/internal/runner"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"google.golang.org/api/option"
)

var logger = loggo.GetLogger("votexport")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := gnuflag.NewFlagSet("exporter", gnuflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "dotenv file read before the environment")
	if err := flags.Parse(true, args); err != nil {
		return 2
	}

	if err := config.ConfigureLogging(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := export(ctx, *envFile)
	if err != nil {
		logger.Errorf("export failed: %v", err)
		logger.Debugf("%s", errors.ErrorStack(err))
		return 1
	}

	fmt.Println(summary)
	return 0
}

func export(ctx context.Context, envFile string) (*runner.Summary, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	conn, err := db.InitDB(cfg.DBFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer db.Close(conn)

	client, err := voteapi.New(cfg.BaseAPIURL,
		voteapi.WithTimeout(cfg.HTTPTimeout),
		voteapi.WithDataSource(cfg.DataSource),
	)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var opts []runner.Option
	if cfg.GoogleSheetsEnabled() {
		sheets, err := exporters.NewGoogleSheets(ctx, cfg.GoogleSheet, option.WithCredentialsFile(cfg.GoogleCreds))
		if err != nil {
			return nil, errors.Trace(err)
		}
		opts = append(opts, runner.WithExporters(sheets))
	}

	return runner.New(client, conn, cfg, opts...).Run(ctx)
}
