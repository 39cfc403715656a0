package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"segtag/internal/category"
	"segtag/internal/config"
	"segtag/internal/labelset"
)

type cli struct {
	stdout, stderr io.Writer

	configPath string
	document   string
	tags       string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "segtag",
		Short:         "Label segmentation masks of image splits",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.document, "document", "", "labeling document (overrides config)")
	root.PersistentFlags().StringVar(&c.tags, "tags", "", "tag file merged after loading (overrides config)")

	root.AddCommand(
		c.serveCmd(),
		c.orderCmd(),
		c.progressCmd(),
		c.exportCmd(),
		c.resolveCmd(),
		c.categoriesCmd(),
	)
	return root
}

func (c *cli) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.document != "" {
		cfg.Document = c.document
	}
	if c.tags != "" {
		cfg.Tags = c.tags
	}
	return cfg, nil
}

// loadDataset reads the configured document and merges the tag file, if any.
func loadDataset(cfg config.Config, table *category.Table) (*labelset.Dataset, error) {
	if cfg.Document == "" {
		return nil, fmt.Errorf("no document given: set --document or document in the config")
	}
	data, err := os.ReadFile(cfg.Document)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	ds, err := labelset.Load(data)
	if err != nil {
		return nil, err
	}
	if cfg.Tags == "" {
		return ds, nil
	}
	raw, err := os.ReadFile(cfg.Tags)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	tags, err := labelset.ParseTags(raw)
	if err != nil {
		return nil, err
	}
	merged, _ := labelset.MergeTags(ds, tags, table)
	return merged, nil
}
