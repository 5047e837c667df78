package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spectrum-notifier/poll"
	"spectrum-notifier/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poll scheduler and HTTP server",
	RunE:  serveAction,
}

func serveAction(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	scheduler := poll.NewScheduler(a.monitor, a.cfg.PollInterval, a.logger)
	go scheduler.Run(ctx)

	srv := server.New(a.monitor, a.logger)
	if err := srv.ListenAndServe(ctx, a.cfg.Port); err != nil {
		a.logger.Error("HTTP server failed", "error", err)
		return err
	}
	a.logger.Info("Shutdown complete")
	return nil
}
