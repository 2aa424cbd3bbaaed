package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	chatRepo     string
	chatMaxSteps int
	chatDebug    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session about a repository.

Plain input goes to the model. Slash commands drive the session:

  /help              show all commands
  /plan              enter plan mode (write tools blocked)
  /build             leave plan mode
  /usage             token and call counters
  /clear             drop the conversation
  /sessions          list saved sessions for this repository
  /resume <id>       load a saved session
  /memory            browse the note store
  /mcp               list connected MCP servers
  /quit              save and exit

Press Ctrl-C once to cancel the turn in flight, twice to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatRepo, "repo", "", "Repository root (default: current directory)")
	chatCmd.Flags().IntVar(&chatMaxSteps, "max-steps", 0, "Cap assistant/tool rounds per turn, 0 means no cap")
	chatCmd.Flags().BoolVarP(&chatDebug, "debug", "d", false, "Log engine events to stderr")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	lines := newLineReader(cmd.InOrStdin())
	sink := &consoleSink{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), lines: lines}

	a, err := newApp(cmd.Context(), appOptions{
		Repo:     chatRepo,
		MaxSteps: chatMaxSteps,
		Debug:    chatDebug,
		Sink:     sink,
		ErrOut:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	r := newREPL(a, cmd.OutOrStdout(), cmd.ErrOrStderr(), lines)
	stop := bridgeInterrupts(r, a.Close)
	defer stop()

	return r.run(cmd.Context())
}

// bridgeInterrupts routes SIGINT into the running turn: the first one
// cancels it, the second (or any SIGINT at the prompt, or a SIGTERM)
// tears the process down. The returned func detaches the handler.
func bridgeInterrupts(r *repl, cleanup func()) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for s := range ch {
			if s == os.Interrupt && r.interrupt() {
				continue
			}
			cleanup()
			os.Exit(1)
		}
	}()
	return func() { signal.Stop(ch) }
}
