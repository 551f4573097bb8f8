package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloo-solutions/ctirag/internal/config"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/cloo-solutions/ctirag/internal/storage"
	"github.com/spf13/cobra"
)

func newContextCmd(rt *app) *cobra.Command {
	var (
		files  []string
		topK   int
		model  string
		dir    string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Retrieve CTI context for a query from local bundles",
		Long: "Index the given bundles from the data directory, run the two-stage " +
			"retrieval for the query and print the context a planner would receive.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dir == "" {
				dir = cfg.DataDir
			}

			store, err := storage.NewLocalStore(dir)
			if err != nil {
				return err
			}
			execution := service.NewExecutionService(
				service.NewMemoryRunStore(),
				service.NewBundleService(store, rt.logger),
				rt.embedders(cfg, nil, rt.logger),
				nil,
				nil,
				ragOptions(cfg),
				rt.logger,
			)

			preview, err := execution.PreviewContext(cmd.Context(), service.PreviewInput{
				Query:      strings.Join(args, " "),
				RAGFiles:   files,
				TopK:       topK,
				EmbedModel: model,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(preview)
			}
			_, err = fmt.Fprintln(out, preview.Context)
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Bundle file to index (repeatable)")
	cmd.Flags().IntVarP(&topK, "topk", "k", 0, "Objects to retrieve (default CTIRAG_RAG_TOPK)")
	cmd.Flags().StringVar(&model, "embed-model", "", "Embedding model (default CTIRAG_EMBED_MODEL)")
	cmd.Flags().StringVar(&dir, "dir", "", "Bundle directory (default CTIRAG_DATA_DIR)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full retrieval result as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
