package crudrouter

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgeflare/crudrouter/pkg/notify/pgnotify"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print events published by a postgres sink",
	Long:  `Listens on a PostgreSQL NOTIFY channel and prints every crud event received as a JSON line`,
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringP("conn", "c", "", "PostgreSQL connection string")
	f.String("channel", pgnotify.DefaultChannel, "NOTIFY channel")
	watchCmd.MarkFlagRequired("conn")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connString, _ := cmd.Flags().GetString("conn")
	channel, _ := cmd.Flags().GetString("channel")

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	events, errs := pgnotify.Listen(ctx, conn, channel)
	logger.Info("listening", zap.String("channel", channel))

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Warn("listen error", zap.Error(err))
		}
	}
}
