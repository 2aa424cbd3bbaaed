package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is stamped by the release build.
var version = "dev"

var showStats bool

var rootCmd = &cobra.Command{
	Use:   "moa",
	Short: "A coding agent for the terminal",
	Long: `moa is an interactive coding agent. It talks to an OpenAI-compatible
chat completions endpoint, streams the replies, and lets the model read,
edit, and run things in your repository behind approval prompts.

Configuration comes from the environment (or a .env file in the current
directory): API_ENDPOINT, API_KEY and MODEL are required.

Examples:
  moa chat                      # chat about the current directory
  moa chat --repo ~/src/widget  # chat about another repository
  moa chat --stats              # print token usage after every turn`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the moa version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "moa "+version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Print token usage after every turn")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Pick up a .env beside the repo before the config reads the
	// environment.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
