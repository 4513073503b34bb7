package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminet/dimmerd/config"
	"github.com/luminet/dimmerd/core/dispatch"
	"github.com/luminet/dimmerd/core/dispatch/logging"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/infra/chirpstack"
	"github.com/luminet/dimmerd/infra/logger"
)

var (
	sendTarget  string
	sendCommand string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Dispatch one command immediately, bypassing the schedule",
	RunE:  sendOnce,
}

func init() {
	sendCmd.Flags().StringVar(&sendTarget, "target", "", "target key, e.g. device:a840... or device_group:mg-1")
	sendCmd.Flags().StringVar(&sendCommand, "command", "", "command, e.g. turn_on, turn_off or dim_40")
	rootCmd.AddCommand(sendCmd)
}

func sendOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kindStr, id, ok := strings.Cut(sendTarget, ":")
	if !ok {
		return fmt.Errorf("target must be <kind>:<id>")
	}
	kind, err := model.ParseTargetKind(kindStr)
	if err != nil {
		return err
	}
	command, err := model.ParseCommand(sendCommand)
	if err != nil {
		return err
	}

	log := logger.New("send")
	client, err := chirpstack.NewClient(cfg.ChirpStack, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Errorf("client close: %v", err)
		}
	}()
	if cfg.ChirpStack.Events.Enabled() {
		listener, err := chirpstack.StartTxAckListener(cfg.ChirpStack.Events, client.Acks(), log)
		if err != nil {
			return fmt.Errorf("txack listener: %w", err)
		}
		defer listener.Close()
	}

	d := dispatch.NewDispatcher(cfg.Dispatch, client, logging.NewMemoryStore(), nil, nil, log)
	attempt := d.Dispatch(ctx, model.ScheduledFire{
		SourceID: "manual",
		Target:   model.Target{Kind: kind, ID: id},
		At:       time.Now().UTC(),
		Command:  command,
	})
	fmt.Printf("%s %s to %s: %s\n", attempt.Outcome, command, sendTarget, attempt.LastError)
	if attempt.Outcome != model.OutcomeDelivered {
		return fmt.Errorf("dispatch %s", attempt.Outcome)
	}
	return nil
}
