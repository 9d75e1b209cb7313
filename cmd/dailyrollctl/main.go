// Command dailyrollctl inspects and edits today's ledger directly against
// the configured backend, without going through the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.opentelemetry.io/otel"

	"dailyroll/internal/attendance/service"
	"dailyroll/internal/attendance/store/backend"
	"dailyroll/internal/platform/config"
	"dailyroll/internal/platform/logger"
)

type CLI struct {
	LogLevel string `help:"Log level written to stderr." default:"warn" enum:"debug,info,warn,error"`
	Format   string `short:"f" help:"Output format." default:"text" enum:"text,json"`

	Today   TodayCmd   `cmd:"" help:"List today's attendees in check-in order."`
	Stats   StatsCmd   `cmd:"" help:"Show today's date and attendee count."`
	CheckIn CheckInCmd `cmd:"" name:"check-in" help:"Check a participant in for today."`
	Cancel  CancelCmd  `cmd:"" help:"Cancel a participant's check-in for today."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("dailyrollctl"),
		kong.Description("Operate the dailyroll attendance ledger."),
		kong.UsageOnError(),
	)
	if err := run(kctx, &cli); err != nil {
		fmt.Fprintln(os.Stderr, "dailyrollctl:", err)
		os.Exit(1)
	}
}

func run(kctx *kong.Context, cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(os.Stderr, cli.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := backend.Open(ctx, cfg, nil, log)
	if err != nil {
		return fmt.Errorf("open ledger backend: %w", err)
	}
	defer func() {
		if err := be.Close(); err != nil {
			log.Warn("closing ledger backend", "error", err)
		}
	}()

	svc, err := service.New(be.Store,
		service.WithLogger(log),
		service.WithLocation(cfg.Location()),
		service.WithTracer(otel.Tracer("dailyroll/cli")),
	)
	if err != nil {
		return err
	}
	return kctx.Run(&Globals{
		Ctx:      ctx,
		Service:  svc,
		Out:      os.Stdout,
		Format:   cli.Format,
		Location: cfg.Location(),
	})
}
