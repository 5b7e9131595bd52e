package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"quarry/internal/answer"
)

var (
	askOffline bool
	askOnline  bool
	askNoWeb   bool
	askNoDocs  bool
	askDocIDs  []string
	askPlain   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Long: `Answers one question and exits. Aggregation questions over uploaded
spreadsheets run on the deterministic analytics engine; everything else
goes through retrieval and the LLM.

Examples:
  quarry ask "who founded the company in the 2019 filing?"
  quarry ask --offline "how many customers are from France?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		opts := answer.Options{
			IncludeWeb:       !askNoWeb,
			IncludeDocuments: !askNoDocs,
			DocumentIDs:      askDocIDs,
		}
		switch {
		case askOffline:
			opts.PreferMode = "OFFLINE"
		case askOnline:
			opts.PreferMode = "ONLINE"
		}

		result, err := app.orch.GetAnswer(ctx, strings.Join(args, " "), opts)
		if err != nil {
			return err
		}

		fmt.Printf("[%s]\n\n", result.Mode)
		fmt.Println(renderMarkdown(result.Answer, askPlain))
		if len(result.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, src := range result.Sources {
				fmt.Printf("  - %s (%s)\n", src.URL, src.RetrievalType)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askOffline, "offline", false, "answer from the local archive only")
	askCmd.Flags().BoolVar(&askOnline, "online", false, "force fresh web retrieval")
	askCmd.Flags().BoolVar(&askNoWeb, "no-web", false, "skip web sources")
	askCmd.Flags().BoolVar(&askNoDocs, "no-docs", false, "skip uploaded documents")
	askCmd.Flags().StringSliceVar(&askDocIDs, "doc", nil, "restrict to specific document IDs")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "print the raw answer without markdown rendering")
}

// renderMarkdown renders the answer for the terminal, falling back to
// the raw text when glamour cannot.
func renderMarkdown(text string, plain bool) string {
	if plain {
		return text
	}
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
