package cli

import (
	"fmt"

	"mcq_bot/internal/repository"
	"mcq_bot/internal/util"

	"github.com/spf13/cobra"
)

// PoolSummary is the result of validate.
type PoolSummary struct {
	QuestionsFile string         `json:"questionsFile"`
	Questions     int            `json:"questions"`
	Delivered     int            `json:"delivered"`
	Remaining     int            `json:"remaining"`
	Categories    map[string]int `json:"categories"`
}

func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and the question pool without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			if !util.FileExists(cfg.Data.QuestionsFile) {
				return WrapExitError(ExitFailure, "invalid question pool",
					fmt.Errorf("%s not found", cfg.Data.QuestionsFile))
			}

			pool, err := repository.NewQuestionRepository(cfg.Data.QuestionsFile).FindAll()
			if err != nil {
				return WrapExitError(ExitFailure, "invalid question pool", err)
			}
			if len(pool) == 0 {
				return WrapExitError(ExitFailure, "invalid question pool",
					fmt.Errorf("%s has no questions", cfg.Data.QuestionsFile))
			}

			inPool := make(map[int]bool, len(pool))
			summary := PoolSummary{
				QuestionsFile: cfg.Data.QuestionsFile,
				Questions:     len(pool),
				Categories:    make(map[string]int),
			}
			for _, q := range pool {
				inPool[q.ID] = true
				category := q.Category
				if category == "" {
					category = "General"
				}
				summary.Categories[category]++
			}
			for _, id := range repository.NewLedgerRepository(cfg.Data.LedgerFile).Load() {
				if inPool[id] {
					summary.Delivered++
				}
			}
			summary.Remaining = summary.Questions - summary.Delivered

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d questions, %d delivered this cycle, %d remaining\n",
				summary.QuestionsFile, summary.Questions, summary.Delivered, summary.Remaining)
			return nil
		},
	}
}
