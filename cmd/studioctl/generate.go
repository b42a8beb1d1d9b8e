package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/makeasinger/studio/internal/model"
)

var (
	genTitle        string
	genPrompt       string
	genProvider     string
	genTags         []string
	genInstrumental bool
	genFile         string
	genDetach       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Queue one request, or a JSON file of requests, and follow it",
	Example: `  studioctl generate --title "Night Drive" --prompt "synthwave, rain" --tags synthwave,retro
  studioctl generate --file album.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := requestsFromFlags()
		if err != nil {
			return err
		}

		validate := validator.New()
		for i := range reqs {
			if err := validate.Struct(&reqs[i]); err != nil {
				return fmt.Errorf("request %d: %w", i+1, err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, err := generator.Session(sessionID)
		if err != nil {
			return err
		}
		if err := o.Start(ctx, reqs); err != nil {
			var denied *model.AdmissionDeniedError
			if errors.As(err, &denied) {
				return fmt.Errorf("insufficient credits: cost %d, balance %d, short %d", denied.Cost, denied.Balance, denied.Shortfall)
			}
			if errors.Is(err, model.ErrBusy) {
				return fmt.Errorf("session %q already has a generation running; use `studioctl resume` or `studioctl cancel`", sessionID)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d request(s) in session %q\n", len(reqs), sessionID)

		if genDetach {
			return nil
		}
		return followUntilDone(ctx, cmd)
	},
}

func requestsFromFlags() ([]model.GenerationRequest, error) {
	if genFile != "" {
		data, err := os.ReadFile(genFile)
		if err != nil {
			return nil, err
		}
		var reqs []model.GenerationRequest
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", genFile, err)
		}
		if len(reqs) == 0 {
			return nil, fmt.Errorf("%s holds no requests", genFile)
		}
		return reqs, nil
	}

	return []model.GenerationRequest{{
		Title:        genTitle,
		PromptText:   genPrompt,
		StyleTags:    genTags,
		ProviderKind: model.ProviderKind(genProvider),
		Instrumental: genInstrumental,
	}}, nil
}

// followUntilDone follows the current session and prints how it ended. An
// interrupt detaches without cancelling; the snapshot stays for resume.
func followUntilDone(ctx context.Context, cmd *cobra.Command) error {
	o, err := generator.Session(sessionID)
	if err != nil {
		return err
	}
	if err := follow(ctx, o); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(cmd.OutOrStdout(), "detached; run `studioctl resume -s %s` to continue\n", sessionID)
			return nil
		}
		return err
	}
	summarize(cmd.OutOrStdout(), o)
	return nil
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&genTitle, "title", "t", "", "Title of the generation")
	cmd.Flags().StringVarP(&genPrompt, "prompt", "p", "", "Prompt or lyrics")
	cmd.Flags().StringVar(&genProvider, "provider", string(model.ProviderSong), "Provider kind: song, image or video")
	cmd.Flags().StringSliceVar(&genTags, "tags", nil, "Comma-separated style tags")
	cmd.Flags().BoolVar(&genInstrumental, "instrumental", false, "Generate without vocals")
	cmd.Flags().StringVarP(&genFile, "file", "f", "", "JSON array of requests to queue instead of the flags")
}

func init() {
	addRequestFlags(generateCmd)
	generateCmd.Flags().BoolVarP(&genDetach, "detach", "d", false, "Return after submission instead of following")
	rootCmd.AddCommand(generateCmd)
}
