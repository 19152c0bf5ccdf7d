package main

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/spf13/cobra"

	"vouch/internal/identity"
	"vouch/internal/imaging"
	"vouch/internal/models"
	"vouch/internal/recon"
)

func newReconCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "recon <identity-id>",
		Short: "Assess autoencoder reconstruction quality on reference images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := strconv.Atoi(args[0])
			if err != nil || identityID < 0 {
				return fmt.Errorf("invalid identity id %q", args[0])
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			paths, err := identityImagePaths(cfg.Paths.DataRoot, identityID, cfg.Recon.Samples)
			if err != nil {
				return err
			}

			autoencoder, err := models.OpenAutoencoder(cfg)
			if err != nil {
				return fmt.Errorf("open autoencoder: %w", err)
			}
			defer autoencoder.Close()

			rng := rand.New(rand.NewSource(cfg.Sampling.Seed))
			assessor := recon.NewAssessor(autoencoder, cfg.Recon.CorrelationSamples, logger)
			report, err := assessor.Assess(cmd.Context(), paths, rng)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reconstruction over %d images\n", report.Samples)
			fmt.Fprintf(out, "  MSE:         %.6f\n", report.MSE)
			fmt.Fprintf(out, "  PSNR:        %.2f dB (%s)\n", report.PSNR, formatBandLabel(report.PSNRBand))
			fmt.Fprintf(out, "  Correlation: %.4f (%s)\n", report.Correlation, formatBandLabel(report.CorrelationBand))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the report as JSON")
	return cmd
}

func newLatentsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "latents <identity-id>",
		Short: "Report latent-space statistics for an identity's reference images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := strconv.Atoi(args[0])
			if err != nil || identityID < 0 {
				return fmt.Errorf("invalid identity id %q", args[0])
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			paths, err := identityImagePaths(cfg.Paths.DataRoot, identityID, 0)
			if err != nil {
				return err
			}

			autoencoder, err := models.OpenAutoencoder(cfg)
			if err != nil {
				return fmt.Errorf("open autoencoder: %w", err)
			}
			defer autoencoder.Close()

			rng := rand.New(rand.NewSource(cfg.Sampling.Seed))
			report, err := recon.AnalyzeLatents(cmd.Context(), autoencoder, paths, cfg.Recon.Samples, rng)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Latent statistics over %d images\n", report.Samples)
			fmt.Fprintf(out, "  Mean: %.4f  Std: %.4f  Min: %.4f  Max: %.4f\n",
				report.Mean, report.Std, report.Min, report.Max)
			rows := make([][]string, 0, len(report.Channels))
			for i, channel := range report.Channels {
				rows = append(rows, []string{
					strconv.Itoa(i),
					fmt.Sprintf("%.4f", channel.Mean),
					fmt.Sprintf("%.4f", channel.Std),
				})
			}
			table := renderTable([]string{"Channel", "Mean", "Std"}, rows,
				[]columnAlignment{alignRight, alignRight, alignRight})
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the report as JSON")
	return cmd
}

func newIdentitiesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "List discovered identities and their reference image counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			mapping, err := identity.Discover(cfg.Paths.DataRoot)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, mapping.Count())
			for _, id := range mapping.IDs() {
				dir, err := mapping.Dir(id)
				if err != nil {
					return err
				}
				images, err := imaging.ListImages(dir)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					strconv.Itoa(id),
					identity.DirName(id),
					strconv.Itoa(len(images)),
				})
			}
			table := renderTable([]string{"Identity", "Directory", "Images"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignRight})
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

// identityImagePaths lists an identity's reference images, optionally capped.
func identityImagePaths(dataRoot string, identityID, limit int) ([]string, error) {
	mapping, err := identity.Discover(dataRoot)
	if err != nil {
		return nil, err
	}
	dir, err := mapping.Dir(identityID)
	if err != nil {
		return nil, err
	}
	paths, err := imaging.ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("identity %d has no reference images in %s", identityID, dir)
	}
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}
