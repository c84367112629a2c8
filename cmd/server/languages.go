package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coderelay/internal/config"
	"coderelay/internal/language"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the languages the server would accept",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		langs, err := loadLanguages(cfg, zerolog.Nop())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tALIASES\tIMAGE\tCOMMAND")
		for _, s := range langs.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, strings.Join(s.Aliases, ","), s.Image, s.RunCommand)
		}
		return tw.Flush()
	},
}

// loadLanguages builds the registry from the defaults and the optional
// languages file.
func loadLanguages(cfg config.Config, logger zerolog.Logger) (*language.Registry, error) {
	langs := language.NewRegistry()
	if cfg.Languages.File == "" {
		return langs, nil
	}
	specs, err := language.LoadFile(cfg.Languages.File)
	if err != nil {
		return nil, err
	}
	if err := langs.Replace(specs); err != nil {
		return nil, err
	}
	logger.Info().Str("file", cfg.Languages.File).Int("languages", len(specs)).Msg("loaded languages file")
	return langs, nil
}
