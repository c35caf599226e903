// Package main is the command line upload client for a pdfshift server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pdfshift/internal/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := client.NewViper()

	root := &cobra.Command{
		Use:   "pdfshift-client",
		Short: "Upload PDFs to a pdfshift server and save the shifted result",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client.LoadDotEnv(".env", ".env.local")
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().String("api-url", "", "server base URL (overrides --env)")
	root.PersistentFlags().String("env", client.EnvLocal, "target environment: local or production")
	root.PersistentFlags().String("api-key", "", "API key sent as X-API-Key")
	bindFlags(v, root)

	root.AddCommand(newConvertCmd(v))
	return root
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	_ = v.BindPFlag("api_url", cmd.PersistentFlags().Lookup("api-url"))
	_ = v.BindPFlag("env", cmd.PersistentFlags().Lookup("env"))
	_ = v.BindPFlag("api_key", cmd.PersistentFlags().Lookup("api-key"))
}

func newConvertCmd(v *viper.Viper) *cobra.Command {
	var (
		margin float64
		outDir string
		mode   string
	)
	cmd := &cobra.Command{
		Use:   "convert <file.pdf>",
		Short: "Shift the page margins of a PDF",
		Long: `convert uploads a PDF together with a margin in millimetres and saves the
returned document as <name>_shifted_<timestamp>.pdf. Negative margins move
content right, positive margins move it left. The margin is limited to
[-100, 100].`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := client.ResolveSettings(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cl := client.New(settings.APIURL)
			cl.APIKey = settings.APIKey
			return runConvert(ctx, cmd, cl, client.Request{Path: args[0], MarginMM: margin, Mode: mode}, outDir)
		},
	}
	cmd.Flags().Float64VarP(&margin, "margin", "m", 0, "margin shift in millimetres")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for the converted file")
	cmd.Flags().StringVar(&mode, "mode", "", "shift (default) or label")
	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, cl *client.Client, req client.Request, outDir string) error {
	resp, err := cl.Convert(ctx, req)
	if err != nil {
		var srvErr *client.ServerError
		if errors.As(err, &srvErr) {
			return fmt.Errorf("server rejected %s (%d): %s", req.Path, srvErr.Status, srvErr.Detail)
		}
		if msg := userMessage(err); msg != "" {
			if errors.Is(err, client.ErrUnreachable) {
				msg += " at " + cl.BaseURL
			}
			return errors.New(msg)
		}
		return err
	}

	path, err := resp.Save(outDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d pages)\n", path, resp.PageCount)
	return nil
}

// userMessage returns the text shown to users for client failures, or ""
// when err has no friendly rendering.
func userMessage(err error) string {
	switch {
	case errors.Is(err, client.ErrNotPDF):
		return "Please choose a PDF file"
	case errors.Is(err, client.ErrTooLarge):
		return "File is too large (maximum " + humanize.IBytes(client.MaxUploadBytes) + ")"
	case errors.Is(err, client.ErrInvalidResponseFormat):
		return "Invalid response format"
	case errors.Is(err, client.ErrEmptyResponse):
		return "Empty response received"
	case errors.Is(err, client.ErrUnreachable):
		return "Unable to reach the conversion server"
	}
	return ""
}
