package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/usecase"
)

// scoreReport is the output of `askctl score`.
type scoreReport struct {
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
	Threshold   int    `json:"threshold"`
	Accepted    bool   `json:"accepted"`
}

func newScoreCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the reliability score offline",
		Long: `score evaluates the Unified Reliability Score for the given counts without
calling any backend. Use it to check how a threshold change affects acceptance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			used := v.GetInt("claims-used")
			total := v.GetInt("claims-total")
			if used < 0 || total < 0 || v.GetInt("gaps") < 0 || v.GetInt("hallucinations") < 0 {
				return fmt.Errorf("counts must not be negative")
			}
			if total < used {
				total = used
			}

			gaps := make([]domain.Gap, v.GetInt("gaps"))
			for i := range gaps {
				gaps[i] = domain.Gap{ID: domain.GapID(i + 1), Description: domain.GapSentence}
			}
			hallucinations := make([]domain.Hallucination, v.GetInt("hallucinations"))

			res := usecase.ScoreReliability(used, total, gaps, hallucinations, !v.GetBool("uncited"))
			report := scoreReport{
				Score:       res.Score,
				Explanation: res.Explanation,
				Threshold:   v.GetInt("threshold"),
			}
			report.Accepted = report.Score >= report.Threshold

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
			}
			verdict := "REJECTED"
			if report.Accepted {
				verdict = "ACCEPTED"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (threshold %d)\n%s\n", verdict, report.Threshold, report.Explanation)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("claims-used", 0, "claims cited by the answer")
	flags.Int("claims-total", 0, "claims extracted from evidence")
	flags.Int("gaps", 0, "detected gaps")
	flags.Int("hallucinations", 0, "unsupported statements found by fact checking")
	flags.Bool("uncited", false, "the answer carries no citation")
	flags.Int("threshold", 90, "acceptance threshold")
	flags.Bool("json", false, "print the report as JSON")
	_ = v.BindPFlags(flags)
	return cmd
}
