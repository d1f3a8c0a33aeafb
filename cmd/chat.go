package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"glean-mcp/internal/config"
	"glean-mcp/internal/models"
)

const chatUsage = `Usage:
  glean-mcp chat [--config <path>] <question>
  glean-mcp chat [--config <path>] --messages <file|->

Flags:
  --config    string   Path to YAML configuration file
  --messages  string   JSON file with {"messages": [...]}; "-" reads stdin`

func chat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, chatUsage)
	}

	var cfgPath, messagesPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&messagesPath, "messages", "", "path to a JSON message list")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse chat flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log.Level); err != nil {
		return err
	}

	arguments, err := chatArguments(messagesPath, fs.Args())
	if err != nil {
		return err
	}

	chatTool, err := newChatTool(cfg)
	if err != nil {
		return err
	}

	text, err := chatTool.Call(ctx, arguments)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func chatArguments(messagesPath string, question []string) (json.RawMessage, error) {
	if messagesPath != "" {
		var (
			data []byte
			err  error
		)
		if messagesPath == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(messagesPath)
		}
		if err != nil {
			return nil, fmt.Errorf("read messages: %w", err)
		}
		return data, nil
	}

	text := strings.TrimSpace(strings.Join(question, " "))
	if text == "" {
		return nil, fmt.Errorf("chat requires a question or --messages\n\n%s", chatUsage)
	}

	data, err := json.Marshal(map[string]any{
		"messages": []models.Message{models.NewUserMessage(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode question: %w", err)
	}
	return data, nil
}
