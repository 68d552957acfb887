package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/store"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/spf13/cobra"
)

var listFiles bool

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage the cached gallery embeddings",
}

var galleryIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed the reference images and cache them in PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGalleryIndex(cmd.Context(), cfg)
	},
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cached identities, or the reference images with --files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if listFiles {
			return runListFiles(os.Stdout, cfg)
		}
		return runGalleryList(cmd.Context(), cfg)
	},
}

func init() {
	addGalleryFlags(galleryIndexCmd.Flags())
	addWorkerFlags(galleryIndexCmd.Flags())

	addGalleryFlags(galleryListCmd.Flags())
	galleryListCmd.Flags().BoolVar(&listFiles, "files", false, "List the configured reference images instead of the database cache")

	galleryCmd.AddCommand(galleryIndexCmd, galleryListCmd)
	rootCmd.AddCommand(galleryCmd)
}

func runGalleryIndex(ctx context.Context, c *config.Config) error {
	db, err := store.New(ctx, c.DBURL)
	if err != nil {
		utils.ShowError("Failed to connect to database", err, nil)
		return err
	}
	defer db.Close()

	pool, err := startWorkers(ctx, c, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, err := embedGallery(ctx, c, pool)
	if err != nil {
		utils.ShowError("Failed to embed gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🗄️  Saving embeddings...")
	if err := db.ReplaceIdentities(ctx, g.Identities()); err != nil {
		utils.ShowError("Failed to save gallery", err, nil)
		return err
	}
	fmt.Printf("✅ Indexed %d identities (%d-dimensional embeddings)\n", g.Size(), g.Dim())
	return nil
}

func runGalleryList(ctx context.Context, c *config.Config) error {
	db, err := store.New(ctx, c.DBURL)
	if err != nil {
		utils.ShowError("Failed to connect to database", err, nil)
		return err
	}
	defer db.Close()

	ids, err := db.LoadIdentities(ctx)
	if err != nil {
		utils.ShowError("Failed to list identities", err, nil)
		return err
	}
	printIdentities(os.Stdout, ids)
	return nil
}

func printIdentities(out io.Writer, ids []gallery.Identity) {
	if len(ids) == 0 {
		fmt.Fprintln(out, "No identities indexed. Run `facewatch gallery index` first.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME\tDIM\tREFERENCE")
	fmt.Fprintln(w, "-\t--\t----\t---\t---------")
	for i, id := range ids {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", i, id.ID, id.DisplayName, len(id.Embedding), id.ReferenceImage)
	}
	w.Flush()
}

func runListFiles(out io.Writer, c *config.Config) error {
	entries, err := gallerySource(c).Entries()
	if err != nil {
		utils.ShowError("Failed to list reference images", err, nil)
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tID\tPATH\tSTATUS")
	fmt.Fprintln(w, "-\t--\t----\t------")
	for i, e := range entries {
		status := "ok"
		if _, err := os.Stat(e.Path); err != nil {
			status = "missing"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, e.ID, e.Path, status)
	}
	return w.Flush()
}
