package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

func newAskCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask a question and print the verified answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.AnswerRequest{
				Question: strings.Join(args, " "),
				TenantID: v.GetString("tenant"),
				UserID:   v.GetString("user"),
			}
			if strings.TrimSpace(req.TenantID) == "" {
				return fmt.Errorf("tenant is required (--tenant or ASKCTL_TENANT)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()

			client := &answerClient{
				baseURL: strings.TrimRight(v.GetString("server"), "/"),
				token:   v.GetString("token"),
				http:    &http.Client{},
			}
			result, raw, err := client.answer(ctx, req)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				_, err := cmd.OutOrStdout().Write(raw)
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("server", "http://localhost:8080", "API base URL")
	flags.String("token", "", "bearer token")
	flags.String("tenant", "", "tenant whose documents are searched")
	flags.String("user", "", "user id recorded in the audit log")
	flags.Duration("timeout", 3*time.Minute, "request timeout")
	flags.Bool("json", false, "print the raw JSON response")
	_ = v.BindPFlags(flags)
	return cmd
}

type answerClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *answerClient) answer(ctx context.Context, req domain.AnswerRequest) (*domain.PipelineResult, []byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/answer", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("call answer api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return nil, raw, fmt.Errorf("answer api returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	var result domain.PipelineResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, raw, fmt.Errorf("decode response: %w", err)
	}
	return &result, raw, nil
}

func printResult(w io.Writer, r *domain.PipelineResult) {
	fmt.Fprintln(w, r.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "URS: %d/100\n", r.URSScore)
	if r.URSExplanation != "" {
		fmt.Fprintf(w, "  %s\n", r.URSExplanation)
	}
	if len(r.ClaimsUsed) > 0 {
		fmt.Fprintln(w, "Claims:")
		for _, c := range r.ClaimsUsed {
			fmt.Fprintf(w, "  [%s] %s (%s)\n", c.ID, c.Text, strings.Join(c.SourceIDs, ", "))
		}
	}
	if len(r.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for _, s := range r.Sources {
			fmt.Fprintf(w, "  %s  %s  %.2f\n", s.ID, s.Source, s.Score)
		}
	}
	if len(r.GapsDetected) > 0 {
		fmt.Fprintln(w, "Gaps:")
		for _, g := range r.GapsDetected {
			fmt.Fprintf(w, "  [%s] %s\n", g.ID, g.Description)
		}
	}
}
