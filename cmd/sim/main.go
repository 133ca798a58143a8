package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"yuzu/discussion/internal/config"
	"yuzu/discussion/internal/llm"
	"yuzu/discussion/internal/orchestrator"
	"yuzu/discussion/internal/store"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "discussion-sim",
		Usage:   "Rehearse a leaderless group interview against AI candidates",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "company", Aliases: []string{"c"}, Usage: "target company", Value: "字节跳动"},
			&cli.StringFlag{Name: "job-title", Aliases: []string{"j"}, Usage: "target role", Value: "产品经理"},
			&cli.StringFlag{Name: "topic", Aliases: []string{"t"}, Usage: "discussion case; generated when empty"},
			&cli.Float64Flag{Name: "time-scale", Usage: "multiplier for every simulated delay", Value: 1},
			&cli.IntFlag{Name: "max-rounds", Usage: "AI turns before the discussion stops"},
			&cli.StringFlag{Name: "log-file", Usage: "write logs to `FILE`", Value: "discussion-sim.log"},
		},
		Commands: []*cli.Command{topicCommand()},
		Action:   runSim,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func topicCommand() *cli.Command {
	return &cli.Command{
		Name:  "topic",
		Usage: "Print a generated discussion case and exit",
		Action: func(c *cli.Context) error {
			client, _, err := setup(c)
			if err != nil {
				return err
			}
			fmt.Println(client.GenerateTopic(c.Context, c.String("company"), c.String("job-title")))
			return nil
		},
	}
}

func setup(c *cli.Context) (*llm.Client, config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()

	// The TUI owns the terminal, so logs go to a file.
	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cfg, err
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	client, err := llm.New(llm.Options{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RatePerSecond: cfg.LLM.RatePerSecond,
		MaxRetries:    cfg.LLM.MaxRetries,
		Fallback:      llm.FallbackReply,
	})
	if err != nil {
		return nil, cfg, fmt.Errorf("llm client: %w (set DEEPSEEK_API_KEY)", err)
	}
	return client, cfg, nil
}

func runSim(c *cli.Context) error {
	client, cfg, err := setup(c)
	if err != nil {
		return err
	}
	company, jobTitle := c.String("company"), c.String("job-title")
	topic := c.String("topic")
	if topic == "" {
		fmt.Fprintln(os.Stderr, "正在生成讨论题目...")
		topic = client.GenerateTopic(c.Context, company, jobTitle)
	}

	opts := orchestrator.DefaultOptions()
	opts.MaxRounds = cfg.Discussion.MaxRounds
	opts.IdleGrace = time.Duration(cfg.Discussion.IdleGraceMs) * time.Millisecond
	opts.ChainProbability = cfg.Discussion.ChainProbability
	opts.TimeScale = c.Float64("time-scale")
	opts.FallbackUtterance = cfg.Discussion.Fallback
	opts.RoundLimitNotice = "讨论轮次已用尽，输入 /eval 结束讨论并查看评估。"
	if n := c.Int("max-rounds"); n > 0 {
		opts.MaxRounds = n
	}

	st := store.New()
	mgr := orchestrator.NewManager(client, client, st, opts)
	defer mgr.Shutdown()

	sess, err := mgr.StartSession(orchestrator.Config{Topic: topic, JobTitle: jobTitle, Company: company})
	if err != nil {
		return err
	}
	events, unsubscribe := st.Subscribe(sess.ID())
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	p := tea.NewProgram(newModel(ctx, sess, events), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
