package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/corpus/internal/glossary"
)

// NewGlossaryCommand creates the glossary command group.
func NewGlossaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Inspect the query-expansion glossary",
	}

	cmd.AddCommand(newGlossaryCheckCommand(rootOpts))
	cmd.AddCommand(newGlossaryShowCommand(rootOpts))

	return cmd
}

func newGlossaryCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check [path]",
		Short:         "Validate a glossary file",
		Long:          "Parse and validate a glossary YAML file. With no argument the configured glossary is checked.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			path := app.cfg.GlossaryPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no glossary configured and no path given").WithCode(ErrCodeGlossary)
			}

			g, err := glossary.Load(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "glossary is invalid", err).WithCode(ErrCodeGlossary)
			}

			synonyms := 0
			for _, e := range g.Entries() {
				synonyms += len(e.Synonyms)
			}
			return sessionFormatter(rootOpts, cmd).Successf(
				map[string]any{"terms": g.Len(), "synonyms": synonyms},
				"glossary ok: %d terms, %d synonyms", g.Len(), synonyms)
		},
	}
}

func newGlossaryShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the configured glossary's terms and synonyms",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			g, err := app.glossary()
			if err != nil {
				return err
			}
			if g == nil {
				return NewExitError(ExitCommandError, "no glossary configured").WithCode(ErrCodeGlossary)
			}

			f := sessionFormatter(rootOpts, cmd)
			if rootOpts.Format == "json" {
				return f.Success(g.Entries())
			}
			for _, e := range g.Entries() {
				fmt.Fprintf(f.Writer, "%s: %s\n", e.Term, strings.Join(e.Synonyms, ", "))
			}
			return nil
		},
	}
}
