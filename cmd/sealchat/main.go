package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sealchat/sealchat/internal/client"
	"github.com/sealchat/sealchat/internal/config"
	"github.com/sealchat/sealchat/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "sealchat",
		Short: "sealchat terminal client",
		Long:  "Connects to a sealchat relay, prints every chat line, and sends what you type. /quit leaves.",
		RunE:  run,
	}

	root.Flags().String("config", "", "path to YAML config file")
	root.Flags().String("server", "", "relay address (default 127.0.0.1:1234)")
	root.Flags().String("user", "", "display name")
	root.Flags().String("password", "", "shared password (prefer SEALCHAT_PASSWORD or the prompt)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.Chat.Username = user
	}
	if pw, _ := cmd.Flags().GetString("password"); pw != "" {
		cfg.Chat.Password = pw
	}
	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", config.DefaultPort)
	}

	// Log to file only; stdout belongs to the chat stream.
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File, true); err != nil {
		return err
	}

	username := cfg.Chat.Username
	if username == "" {
		return fmt.Errorf("a display name is required (--user or SEALCHAT_USERNAME)")
	}
	password := cfg.Chat.Password
	if password == "" {
		password, err = promptPassword("Enter shared password: ")
		if err != nil {
			return err
		}
	}

	c := client.New(addr, username, password, func(line string) {
		fmt.Println(line)
	})
	defer c.Close()

	if err := c.Dial(); err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	fmt.Printf("connected to %s as %s\n", addr, username)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			break
		}
		// The relay echoes the composed line back to everyone, sender
		// included, so we print nothing here.
		line := fmt.Sprintf("[%s] %s: %s", time.Now().Format("15:04"), username, text)
		c.Send(line)
	}
	return scanner.Err()
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
