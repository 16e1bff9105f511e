package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"kdocs2pdf/internal/chrome"
	"kdocs2pdf/internal/convert"
	"kdocs2pdf/internal/storage"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Export one document to PDF without starting the server",
	Long: `Convert runs a single export in a fresh browser and prints the path of the
stored PDF. Browser, timeout and validation settings come from the config file.`,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("url", "", "kdocs.cn document URL")
	convertCmd.Flags().String("out", "", "output directory (default: storage.download_dir)")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	sourceURL, _ := cmd.Flags().GetString("url")
	out, _ := cmd.Flags().GetString("out")

	if sourceURL == "" {
		return convert.ErrMissingURL
	}

	cfg := loadConfig()
	if out != "" {
		cfg.Storage.DownloadDir = out
	}
	initLogger(cfg)

	if err := convert.ValidateSourceURL(sourceURL, cfg.Validation.BaseURL); err != nil {
		return err
	}

	files, err := storage.NewFileStore(cfg.Storage.DownloadDir)
	if err != nil {
		return err
	}
	launcher, err := chrome.NewLauncher(cfg.Browser)
	if err != nil {
		return err
	}

	res, err := convert.New(cfg.Browser, launcher, files).Convert(cmd.Context(), sourceURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(files.Dir(), res.Filename))
	return nil
}
