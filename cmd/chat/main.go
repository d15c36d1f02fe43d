package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"github.com/dylangamachefl/portfolio-website-v3/config"
	"github.com/dylangamachefl/portfolio-website-v3/logging"
	"github.com/dylangamachefl/portfolio-website-v3/profile"
	"github.com/dylangamachefl/portfolio-website-v3/provider"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath  string
	provName string
	render   bool
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the portfolio assistant from a terminal",
	Long: `Talk to the portfolio assistant from a terminal.

Without a subcommand an interactive session starts. Use "ask" for a
single question answered on stdout.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask one question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start an interactive session",
	RunE:  runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&provName, "provider", "", "override llm.provider (gemini, openai, mock)")
	askCmd.Flags().BoolVar(&render, "render", false, "re-render the answer as Markdown when it completes")
	rootCmd.AddCommand(askCmd, tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSession builds a session from the config file and the --provider override.
func newSession(ctx context.Context, logger *zap.Logger, opts ...chat.Option) (*chat.Session, profile.Profile, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, profile.Profile{}, err
	}
	if provName != "" {
		cfg.LLM.Provider = provName
		if err := cfg.Validate(); err != nil {
			return nil, profile.Profile{}, err
		}
	}
	prof, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		return nil, profile.Profile{}, err
	}
	ep, err := provider.New(cfg, prof)
	if err != nil {
		return nil, profile.Profile{}, err
	}
	opts = append([]chat.Option{chat.WithPolicy(cfg.RetryPolicy()), chat.WithLogger(logger)}, opts...)
	s := chat.NewSession(ep, prof.SystemContext(), opts...)
	if err := s.Initialize(ctx); err != nil {
		logger.Warn("initial chat creation failed", zap.Error(err))
	}
	return s, prof, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger, err := logging.New("warn", false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	s, _, err := newSession(ctx, logger, chat.WithRetryNotifier(func(attempt, maxRetries int, delay time.Duration) {
		fmt.Fprintln(errOut, chat.RetryBanner(attempt, maxRetries, delay))
	}))
	if err != nil {
		return err
	}

	t := chat.NewTranscript("")
	streamed := ""
	err = chat.RunTurn(ctx, s, t, strings.Join(args, " "), func(chunk string) bool {
		streamed += chunk
		if !render {
			fmt.Fprint(out, chunk)
		}
		return true
	})
	if err != nil {
		return err
	}

	// The first message is the question.
	answer := t.Messages()[1:]
	if !render {
		for i, m := range answer {
			switch {
			case i == 0 && m.Text == streamed:
			case i == 0:
				fmt.Fprint(out, m.Text)
			default:
				fmt.Fprint(out, "\n\n"+m.Text)
			}
		}
		fmt.Fprintln(out)
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return err
	}
	for _, m := range answer {
		md, err := r.Render(m.Text)
		if err != nil {
			return err
		}
		fmt.Fprint(out, md)
	}
	return nil
}

func runTUI(cmd *cobra.Command, _ []string) error {
	events := make(chan tea.Msg, 64)
	s, prof, err := newSession(cmd.Context(), zap.NewNop(), chat.WithRetryNotifier(func(attempt, maxRetries int, delay time.Duration) {
		events <- retryMsg(chat.RetryBanner(attempt, maxRetries, delay))
	}))
	if err != nil {
		return err
	}
	m := newModel(cmd.Context(), s, chat.NewTranscript(prof.Greeting), events)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}
