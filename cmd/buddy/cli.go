package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-buddy/config"
	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/engine"
	"github.com/becomeliminal/nim-buddy/memory"
	"github.com/becomeliminal/nim-buddy/server"
)

const appName = "🤖"

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "buddy",
		Short: "Empathetic AI companion with long-term memory and mood tracking",
		Long: strings.TrimSpace(`buddy remembers what you tell it, tracks your mood over the
conversation, and replies through Claude.

Serve it over websocket, chat with it in the terminal, or inspect its memory.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BUDDY_CONFIG"), "Path to a JSON or YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newServeCommand(load))
	root.AddCommand(newChatCommand(load))
	root.AddCommand(newRecallCommand(load))
	root.AddCommand(newStatsCommand(load))

	return root
}

type loader func() (*config.Config, error)

func newServeCommand(load loader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the websocket server",
		Example: "  buddy serve --addr :8000",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(server.Config{
				Handler:           a.engine,
				Stream:            cfg.Server.Stream,
				MessagesPerSecond: cfg.Server.MessagesPerSecond,
				Burst:             cfg.Server.Burst,
				AllowedOrigins:    cfg.Server.AllowedOrigins,
			})
			if err != nil {
				return err
			}

			fmt.Println(cfg)
			fmt.Printf("\nWebSocket: ws://localhost%s/ws\n", cfg.Server.Addr)
			fmt.Printf("Health:    http://localhost%s/health\n\n", cfg.Server.Addr)
			return srv.Run(cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newChatCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with buddy in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return interactiveMode(cmd.Context(), a.engine)
		},
	}
}

func interactiveMode(ctx context.Context, e *engine.Engine) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".buddy_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s Interactive mode (Ctrl+C to exit, /mood for the current mood)\n\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return nil
		case "/mood":
			mood, scores := e.Mood()
			fmt.Printf("%s mood: %s\n", appName, mood)
			for _, l := range core.Labels {
				fmt.Printf("  %-9s %.3f\n", l, scores[l])
			}
			continue
		}

		fmt.Printf("\n%s ", appName)
		out, err := e.Handle(ctx, &engine.Input{
			Text:    input,
			Speaker: core.SpeakerUser,
			StreamCallback: func(chunk string, done bool) {
				fmt.Print(chunk)
			},
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n   [%s, %s]\n\n", out.Emotion, out.Expression)
	}
}

func newRecallCommand(load loader) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:     "recall <query>",
		Short:   "Search the memory store",
		Example: "  buddy recall \"my sister\" -k 5",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, closers, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeAll(closers)
			defer store.Close()

			matches, err := store.Search(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No memories yet.")
				return nil
			}
			for _, m := range matches {
				fmt.Printf("%8.4f  #%-5d %s  %s\n", m.Distance, m.Record.ID,
					m.Record.Timestamp.Format("2006-01-02 15:04"),
					m.Record.Format(memory.FormatContext{MaxLength: 100}))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 3, "Number of memories to return")
	return cmd
}

func newStatsCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, closers, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeAll(closers)
			defer store.Close()

			records := store.Records()
			bySpeaker := map[core.Speaker]int{}
			for _, r := range records {
				bySpeaker[r.Speaker]++
			}

			fmt.Printf("Store:      %s\n", cfg.Memory.Dir)
			fmt.Printf("Records:    %d (index %d)\n", len(records), store.IndexSize())
			fmt.Printf("Dimensions: %d\n", store.Dimensions())
			for speaker, n := range bySpeaker {
				fmt.Printf("  %-10s %d\n", speaker, n)
			}
			if len(records) > 0 {
				fmt.Printf("First:      %s\n", records[0].Timestamp.Format("2006-01-02 15:04:05"))
				fmt.Printf("Last:       %s\n", records[len(records)-1].Timestamp.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
