package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries process-wide state shared by the subcommands.
type app struct {
	verbose   bool
	logger    *zap.Logger
	embedders embedderFactoryFunc
}

// NewRootCmd returns the ctiragd command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{embedders: openAIEmbedders})
}

func newRootCmd(rt *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ctiragd",
		Short: "CTI-augmented adversary emulation planner",
		Long: "ctiragd serves the CTI retrieval API: STIX bundle storage, two-stage " +
			"semantic retrieval and background planning runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if rt.logger != nil {
				return nil
			}
			logger, err := NewLogger(rt.verbose || debugFromEnv())
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = rt.logger.Sync()
		},
	}

	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")
	AddHelpJSONFlag(root)
	root.AddCommand(newServeCmd(rt), newContextCmd(rt), newMigrateCmd(rt))

	return root
}
