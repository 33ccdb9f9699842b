package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"croprec/crop"
	"croprec/pipeline"
	"croprec/recommend"
)

func (a *app) predictCmd() *cobra.Command {
	defaults := pipeline.DefaultReadings(pipeline.DefaultFields())
	r := defaults
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Recommend a crop for one set of readings",
		Example: `  croprec predict --n 90 --p 42 --k 43 --temperature 20.8 --humidity 82 --ph 6.5 --rainfall 202.9`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			svc := recommend.NewService(recommend.Deps{Pipeline: p, Logger: a.logger})
			rec, err := svc.Recommend(cmd.Context(), r, recommend.SourceCLI)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Fprintln(out, rec.Headline)
			fmt.Fprintf(out, "confidence: %.2f\n", rec.Confidence)
			if rec.Advice != nil {
				fmt.Fprintln(out, rec.Advice.Message)
			}
			for _, w := range rec.Warnings {
				fmt.Fprintln(out, "warning:", w.Message)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&r.Nitrogen, "n", defaults.Nitrogen, "nitrogen (kg/ha)")
	f.Float64Var(&r.Phosphorus, "p", defaults.Phosphorus, "phosphorus (kg/ha)")
	f.Float64Var(&r.Potassium, "k", defaults.Potassium, "potassium (kg/ha)")
	f.Float64Var(&r.Temperature, "temperature", defaults.Temperature, "temperature (°C)")
	f.Float64Var(&r.Humidity, "humidity", defaults.Humidity, "relative humidity (%)")
	f.Float64Var(&r.PH, "ph", defaults.PH, "soil pH")
	f.Float64Var(&r.Rainfall, "rainfall", defaults.Rainfall, "rainfall (mm)")
	f.BoolVar(&asJSON, "json", false, "print the full recommendation as JSON")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the model artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := a.cfg.Contract()
			if err != nil {
				return err
			}
			artifacts, err := pipeline.LoadArtifacts(a.cfg.ArtifactFiles(), contract)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "artifacts ok: %s\n", artifacts.Source())
			fmt.Fprintf(out, "features (%d): %s\n", artifacts.ExpectedFeatures(), strings.Join(artifacts.Contract().Strings(), ", "))
			classes := artifacts.Classes()
			fmt.Fprintf(out, "classes (%d): %s\n", len(classes), strings.Join(classes, ", "))

			var unknown []string
			for _, c := range classes {
				if !isKnownCrop(c) {
					unknown = append(unknown, c)
				}
			}
			if len(unknown) > 0 {
				fmt.Fprintf(out, "no catalog entry for: %s\n", strings.Join(unknown, ", "))
			}
			return nil
		},
	}
}

func isKnownCrop(name string) bool {
	for _, c := range crop.Known {
		if c == crop.Normalize(name) {
			return true
		}
	}
	return false
}
