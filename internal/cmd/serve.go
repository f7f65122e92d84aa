package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/zektor/internal/app"
	"github.com/Iron-Ham/zektor/internal/broker"
	"github.com/Iron-Ham/zektor/internal/notify"
	"github.com/Iron-Ham/zektor/internal/trigger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interactive stage controller",
	Long: `Run the stage controller until 'exit', end of input or a signal.

serve owns the data directory while it runs: one-shot commands that change
state are refused, and 'zektor status --watch' can follow along. Commands
are read from stdin, one per line; type 'help' for the list.

With mqtt.enabled, lifecycle events are published under mqtt.topic_prefix
and the configured triggers advance and score sessions from broker
messages. Without it, notifications are written to the log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a, err := app.Open(ctx, app.Options{
		Mode:    app.ModeServe,
		Out:     out,
		NoColor: viper.GetBool("no_color"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.Config
	logger := a.Logger.WithComponent("serve")

	var notifier notify.Notifier
	var client *broker.Client
	if cfg.MQTT.Enabled {
		client = broker.New(cfg.MQTT, a.Logger)
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer client.Close()
		notifier = notify.NewMQTTNotifier(client, cfg.MQTT.TopicPrefix)
	} else {
		notifier = notify.NewLogNotifier(a.Logger, cfg.MQTT.TopicPrefix)
	}

	dispatcher := notify.NewDispatcher(notifier, cfg.MQTT.QueueSize,
		notify.WithLogger(a.Logger),
		notify.WithStageLabels(cfg.StageLabel))
	dispatcher.Attach(a.Bus)
	dispatcher.Start(ctx)
	defer func() {
		dispatcher.Stop()
		stats := dispatcher.Stats()
		logger.Info("notifications stopped", "sent", stats.Sent, "failed", stats.Failed, "dropped", stats.Dropped)
	}()

	router := trigger.NewRouter(a.Manager, cfg.Triggers,
		trigger.WithLogger(a.Logger),
		trigger.WithQueueSize(cfg.MQTT.QueueSize))
	if client != nil && len(router.Topics()) > 0 {
		router.Start(ctx)
		defer router.Stop()
		if err := router.Attach(ctx, client); err != nil {
			return fmt.Errorf("subscribe to triggers: %w", err)
		}
	} else if len(router.Topics()) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: triggers are configured but mqtt is disabled; they will not fire.")
	}

	logger.Info("serving",
		"data_dir", a.DataDir,
		"state_file", a.Store.Path(),
		"stages", cfg.NumStages(),
		"mqtt", cfg.MQTT.Enabled,
		"trigger_topics", len(router.Topics()))

	fmt.Fprintln(out, a.Console.Status().Text)
	fmt.Fprintln(out)
	return a.Console.Run(ctx, cmd.InOrStdin(), out)
}
