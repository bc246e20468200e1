package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/tools"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show data sources and whether they are configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		configured := map[string]bool{}
		for _, key := range configuredSources(cfg) {
			configured[key] = true
		}

		for _, key := range []string{
			tools.SourceRegulations,
			tools.SourceGovInfo,
			tools.SourceFederalRegister,
			tools.SourceCongress,
			tools.SourceUSASpending,
			tools.SourceFiscalData,
			tools.SourceDataGov,
			tools.SourceDOJ,
			tools.SourceSearchGov,
		} {
			state := "not configured"
			if configured[key] {
				state = "ready"
			}
			fmt.Printf("%-18s %-28s %s\n", key, tools.DisplayNames[key], state)
		}
		return nil
	},
}
