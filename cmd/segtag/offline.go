package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"segtag/internal/asset"
	"segtag/internal/blob"
	"segtag/internal/labelset"
	"segtag/internal/progress"
	"segtag/internal/session"
	"segtag/internal/traverse"
)

func (c *cli) orderCmd() *cobra.Command {
	var (
		image  string
		split  int
		policy string
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the traversal order of one split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.CategoryTable()
			if err != nil {
				return err
			}
			ds, err := loadDataset(cfg, table)
			if err != nil {
				return err
			}
			p := cfg.TraversalPolicy()
			if policy != "" {
				var ok bool
				if p, ok = traverse.ParsePolicy(policy); !ok {
					return fmt.Errorf("unknown policy %q", policy)
				}
			}
			if image == "" {
				keys := ds.Keys()
				if len(keys) == 0 {
					return errors.New("document has no images")
				}
				image = keys[0]
			}
			if !ds.HasImage(image) {
				return fmt.Errorf("image %q not in document", image)
			}
			splitKey := labelset.SplitKey(split, cfg.SplitBase)
			for _, mk := range traverse.Filter(ds, image, splitKey, p) {
				label, _ := ds.Label(image, splitKey, mk)
				fmt.Fprintf(c.stdout, "%s\t%s\n", mk, label)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "image key (defaults to the first image)")
	cmd.Flags().IntVar(&split, "split", 1, "1-based split index")
	cmd.Flags().StringVar(&policy, "policy", "", "traversal policy: all, unlabeled or unlabeled-only")
	return cmd
}

func (c *cli) progressCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Summarize labeling progress per image and split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.CategoryTable()
			if err != nil {
				return err
			}
			ds, err := loadDataset(cfg, table)
			if err != nil {
				return err
			}
			summary := progress.Summarize(ds)
			if asJSON {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IMAGE\tSPLIT\tTAGGED\tTOTAL\tPERCENT")
			for _, img := range summary.Images {
				for _, sp := range img.Splits {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\n", img.Image, sp.Split, sp.Tagged, sp.Total, sp.Percentage)
				}
			}
			fmt.Fprintf(tw, "TOTAL\t\t%d\t%d\t%.1f\n", summary.Tagged, summary.Total, summary.Percentage)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		out  string
		tags bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the labeled document, or its tag file with --tags-only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.CategoryTable()
			if err != nil {
				return err
			}
			ds, err := loadDataset(cfg, table)
			if err != nil {
				return err
			}
			var data []byte
			if tags {
				data, err = session.EncodeTags(labelset.Tags(ds))
				if errors.Is(err, session.ErrNoTags) {
					return errors.New(session.NoticeNoTags)
				}
			} else {
				data, err = labelset.Export(ds)
			}
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = c.stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&tags, "tags-only", false, "export the flat tag file instead of the document")
	return cmd
}

func (c *cli) resolveCmd() *cobra.Command {
	var (
		image string
		split int
		mask  int
		list  bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the asset keys of a split and whether they exist under the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if image == "" {
				return errors.New("--image is required")
			}
			var store blob.Store
			if cfg.Root.Configured() {
				store, err = blob.Open(cmd.Context(), cfg.Root)
				if err != nil {
					return fmt.Errorf("open asset root: %w", err)
				}
			}
			resolver := asset.NewResolver(store, cfg.SplitBase, nil)
			if list {
				infos, err := resolver.Inventory(cmd.Context(), image, split)
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(c.stdout, "%s\t%d\n", info.Key, info.Size)
				}
				return nil
			}
			refs := []asset.Ref{asset.MainRef(image, split)}
			if mask >= 0 {
				refs = append(refs, asset.MaskRef(image, split, mask))
			}
			for _, ref := range refs {
				fmt.Fprintln(c.stdout, describe(cmd.Context(), resolver, ref))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "image key")
	cmd.Flags().IntVar(&split, "split", 1, "1-based split index")
	cmd.Flags().IntVar(&mask, "mask", -1, "mask number (omit for the main image only)")
	cmd.Flags().BoolVar(&list, "list", false, "list every stored object of the split instead")
	return cmd
}

func describe(ctx context.Context, r *asset.Resolver, ref asset.Ref) string {
	key, err := r.Key(ref)
	if err != nil {
		return fmt.Sprintf("invalid\t%v", err)
	}
	if !r.HasRoot() {
		return key + "\tno-root"
	}
	info, err := r.Stat(ctx, ref)
	var nf *asset.NotFoundError
	switch {
	case errors.As(err, &nf):
		return key + "\tmissing\t" + nf.ExpectedPath
	case err != nil:
		return key + "\terror\t" + err.Error()
	}
	return fmt.Sprintf("%s\tfound\t%d", key, info.Size)
}

func (c *cli) categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the configured material categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.CategoryTable()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "# version %s\n", table.Version())
			for _, e := range table.Entries() {
				fmt.Fprintf(c.stdout, "%s\t%s\n", e.Name, e.Display)
			}
			return nil
		},
	}
}
