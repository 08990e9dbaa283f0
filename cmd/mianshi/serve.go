package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yourorg/mianshi/internal/server"
	"github.com/yourorg/mianshi/internal/session"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Start HTTP service", RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(opts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("host") {
			a.cfg.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			a.cfg.Server.Port = port
		}
		bank, err := session.LoadQuestionBank(a.cfg.Questions.File)
		if err != nil {
			return err
		}
		srv, err := server.New(a.cfg, server.Deps{
			History:     a.db,
			Settings:    a.db,
			Transcriber: a.transcriber(),
			Scorer:      a.scorer(),
			Bank:        bank,
			Logger:      a.logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, a.cfg.Addr())
	}}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 8501, "server port")
	return cmd
}
