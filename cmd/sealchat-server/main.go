package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sealchat/sealchat/internal/config"
	"github.com/sealchat/sealchat/internal/crypto"
	"github.com/sealchat/sealchat/internal/logger"
	"github.com/sealchat/sealchat/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:   "sealchat-server",
		Short: "sealchat relay server",
		Long:  "Accepts encrypted chat connections and rebroadcasts every message to all connected clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			if pw, _ := cmd.Flags().GetString("password"); pw != "" {
				cfg.Chat.Password = pw
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				cfg.Logging.Level = lvl
			}

			if err := logger.Init(cfg.Logging.Level, cfg.Logging.File, false); err != nil {
				return err
			}

			password := cfg.Chat.Password
			if password == "" {
				password, err = promptPassword("Enter shared password: ")
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			srv := server.New(cfg.Server.Addr, crypto.DeriveKey(password))
			return srv.ListenAndServe(ctx)
		},
	}

	root.Flags().String("config", "", "path to YAML config file")
	root.Flags().String("addr", "", "listen address (default :1234)")
	root.Flags().String("password", "", "shared password (prefer SEALCHAT_PASSWORD or the prompt)")
	root.Flags().String("log-level", "", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	return string(b), nil
}
