package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/corpus/internal/search"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	TopK       int
	Mode       string
	Filters    []string
	Rerank     bool
	NoRerank   bool
	Expand     bool
	NoExpand   bool
	Synthesize bool
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus with grounded results",
		Long: `Run the staged search pipeline: glossary expansion, semantic retrieval,
reranking, and per-source diversification. With --synthesize, a structured
answer is generated whose every claim is checked against its cited passage;
claims that fail citation validation are never shown.

Results are excerpts with file attribution by default.

Example:
  corpus search "opportunity cost"
  corpus search "measurement error" --mode learn --synthesize
  corpus search "inflation" --filter course=macro-201 --no-rerank`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.TopK, "top-k", 0, "retrieval depth (default from config)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "result ordering: research|learn (default from config)")
	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "metadata filter key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Rerank, "rerank", true, "rerank retrieved passages")
	cmd.Flags().BoolVar(&opts.NoRerank, "no-rerank", false, "disable reranking")
	cmd.Flags().BoolVar(&opts.Expand, "expand", true, "expand the query with glossary synonyms")
	cmd.Flags().BoolVar(&opts.NoExpand, "no-expand", false, "disable glossary expansion")
	cmd.Flags().BoolVar(&opts.Synthesize, "synthesize", false, "generate a cited answer over the results")

	return cmd
}

func runSearch(opts *SearchOptions, query string, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	adapter, err := app.adapter()
	if err != nil {
		return err
	}
	model, err := app.model()
	if err != nil {
		return err
	}
	gl, err := app.glossary()
	if err != nil {
		return err
	}

	filters, err := parseFilters(opts.Filters)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err).WithCode(ErrCodeSearch)
	}

	mode := search.Mode(opts.Mode)
	if opts.Mode == "" {
		mode = search.Mode(app.cfg.Search.Mode)
	}
	switch mode {
	case search.ModeResearch, search.ModeLearn:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be research or learn", mode))
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = app.cfg.Search.TopK
	}

	sessionID, err := app.sessions().Active(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve active session", err).WithCode(ErrCodeSession)
	}

	pipeline := search.NewPipeline(adapter, model, app.store, gl, app.logger)
	res, err := pipeline.Run(cmd.Context(), search.Request{
		Query:      query,
		Filters:    filters,
		TopK:       topK,
		Mode:       mode,
		Expand:     opts.Expand && !opts.NoExpand,
		Rerank:     opts.Rerank && !opts.NoRerank,
		Synthesize: opts.Synthesize,
		SessionID:  sessionID,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "search failed", err).WithCode(ErrCodeSearch)
	}

	formatter := &OutputFormatter{
		Format: opts.Format, Writer: cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(res)
	}
	return renderSearchText(formatter, res)
}

// parseFilters converts key=value flags to the adapter's filter map.
func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, f := range raw {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("filter %q is not key=value", f)
		}
		out[k] = v
	}
	return out, nil
}

// renderSearchText writes the human-readable result layout.
func renderSearchText(f *OutputFormatter, res *search.Result) error {
	w := f.Writer

	if res.ExpandedQuery != res.Query {
		fmt.Fprintf(w, "query expanded: %s\n\n", res.ExpandedQuery)
	}

	if res.Synthesis != nil {
		if res.Synthesis.Summary != "" {
			fmt.Fprintf(w, "%s\n\n", res.Synthesis.Summary)
		}
		for i, claim := range res.Synthesis.Claims {
			fmt.Fprintf(w, "%d. %s\n", i+1, claim.ClaimText)
			fmt.Fprintf(w, "   > %q (%s)\n", claim.Citation.Quote, claim.Citation.FileID)
		}
		fmt.Fprintln(w)
	}

	if len(res.Passages) == 0 {
		fmt.Fprintln(w, "no passages found")
	}
	for i, ps := range res.Passages {
		source := ps.FileID
		if course := ps.Metadata["course"]; course != "" {
			source = course + " / " + source
		}
		fmt.Fprintf(w, "[%d] %s\n", i+1, source)
		fmt.Fprintf(w, "    %s\n", excerpt(ps.Text, 240))
	}

	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	return nil
}

// excerpt truncates on a rune boundary with an ellipsis.
func excerpt(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "..."
}
