package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"modelgate/internal/domain"
)

// requestFlags are the generation parameters shared by generate and stream.
type requestFlags struct {
	agent         string
	temperature   float64
	maxTokens     int
	topK          int
	topP          float64
	repeatPenalty float64
	asJSON        bool
}

func (f *requestFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.agent, "agent", "a", "", "agent name used to pick the candidate backends")
	fs.Float64Var(&f.temperature, "temperature", 0, "sampling temperature, clamped to the backend range")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "token limit, capped by the backend maximum")
	fs.IntVar(&f.topK, "top-k", 0, "top-k sampling")
	fs.Float64Var(&f.topP, "top-p", 0, "nucleus sampling")
	fs.Float64Var(&f.repeatPenalty, "repeat-penalty", 0, "repetition penalty")
	fs.BoolVar(&f.asJSON, "json", false, "print the result as JSON")
}

// request builds a GenerationRequest. Only flags set explicitly override the
// request builder defaults.
func (f *requestFlags) request(fs *pflag.FlagSet, prompt string) domain.GenerationRequest {
	req := domain.GenerationRequest{AgentName: f.agent, Prompt: prompt}
	if fs.Changed("temperature") {
		req.Temperature = &f.temperature
	}
	if fs.Changed("max-tokens") {
		req.MaxTokens = &f.maxTokens
	}
	if fs.Changed("top-k") {
		req.TopK = &f.topK
	}
	if fs.Changed("top-p") {
		req.TopP = &f.topP
	}
	if fs.Changed("repeat-penalty") {
		req.RepeatPenalty = &f.repeatPenalty
	}
	return req
}

// readPrompt joins args, or reads stdin when there are none or the only
// argument is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func newGenerateCmd(cfgPath func() string) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Dispatch one generation request and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfgPath())
			defer a.Close()
			if err != nil {
				return err
			}

			res, err := a.dispatcher.Generate(cmd.Context(), flags.request(cmd.Flags(), prompt))
			if err != nil {
				return err
			}
			if flags.asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			printSummary(cmd.ErrOrStderr(), res)
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newStreamCmd(cfgPath func() string) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "stream [prompt...]",
		Short: "Dispatch a streaming request and print chunks as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfgPath())
			defer a.Close()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			res, err := a.dispatcher.Stream(cmd.Context(), flags.request(cmd.Flags(), prompt), func(c domain.Chunk) error {
				if flags.asJSON {
					return enc.Encode(c)
				}
				_, err := io.WriteString(out, c.Text)
				return err
			})
			if res != nil {
				if flags.asJSON {
					if err := enc.Encode(res); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(out)
					printSummary(cmd.ErrOrStderr(), res)
				}
			}
			if errors.Is(err, domain.ErrStreamInterrupted) {
				return fmt.Errorf("stream ended early: %w", err)
			}
			return err
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func printSummary(w io.Writer, res *domain.GenerationResult) {
	fmt.Fprintf(w, "-- %s via %s", res.RequestID, res.BackendUsed)
	if res.UsedFallback {
		fmt.Fprint(w, " (fallback)")
	}
	fmt.Fprintf(w, ", %d tokens, %s\n", res.TokensGenerated, res.ProcessingTime.Round(1e6))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
