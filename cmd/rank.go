package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/andresmejia3/facewatch/internal/annotate"
	"github.com/andresmejia3/facewatch/internal/capture"
	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/matcher"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/spf13/cobra"
)

var rankAnnotated string

var rankCmd = &cobra.Command{
	Use:   "rank <image_path>",
	Short: "Rank the faces in a still image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRank(cmd.Context(), cfg, args[0])
	},
}

func init() {
	d := config.New()
	fs := rankCmd.Flags()
	addGalleryFlags(fs)
	addWorkerFlags(fs)
	fs.Bool("gallery-from-db", d.GalleryFromDB, "Use embeddings cached by `gallery index`")
	fs.Int("top-k", d.TopK, "Ranked identities reported per face")
	fs.Int("jpeg-quality", d.JPEGQuality, "JPEG quality of the annotated copy")
	fs.StringVarP(&rankAnnotated, "annotated", "a", "", "Write an annotated JPEG copy of the image here")
	rootCmd.AddCommand(rankCmd)
}

func runRank(ctx context.Context, c *config.Config, imagePath string) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	pool, err := startWorkers(ctx, c, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, err := loadGallery(ctx, c, pool)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	faces, err := pool.Embed(ctx, imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}
	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	matches := make([]matcher.ProbeMatch, 0, len(faces))
	for _, face := range faces {
		res, err := matcher.Rank(face.Vec, g, c.TopK)
		if err != nil {
			utils.ShowError("Ranking failed", err, nil)
			return err
		}
		matches = append(matches, matcher.ProbeMatch{Box: face.Loc, Result: res})
	}
	printRanking(os.Stdout, matches)

	if rankAnnotated != "" {
		if err := writeAnnotated(rankAnnotated, imgData, matches, c.JPEGQuality); err != nil {
			utils.ShowError("Failed to write annotated image", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🖍️  Annotated copy written to %s\n", rankAnnotated)
	}
	return nil
}

// printRanking writes one table per face, largest face first.
func printRanking(out io.Writer, matches []matcher.ProbeMatch) {
	order := largestFirst(matches)
	for n, i := range order {
		pm := matches[i]
		b := pm.Box
		fmt.Fprintf(out, "\nFace %d at (%d,%d)-(%d,%d)\n", n+1, b.Left, b.Top, b.Right, b.Bottom)

		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RANK\tIDENTITY\tDISTANCE\tSIMILARITY\tREFERENCE")
		fmt.Fprintln(w, "----\t--------\t--------\t----------\t---------")
		for _, m := range pm.Result {
			fmt.Fprintf(w, "%d\t%s\t%.4f\t%.2f%%\t%s\n", m.Rank, m.DisplayName, m.Distance, m.Similarity, m.ReferenceImage)
		}
		w.Flush()
	}
}

// largestFirst returns indexes of matches ordered by face area, descending.
// Equal areas keep detector order.
func largestFirst(matches []matcher.ProbeMatch) []int {
	order := make([]int, len(matches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return matches[order[a]].Box.Area() > matches[order[b]].Box.Area()
	})
	return order
}

func writeAnnotated(path string, imgData []byte, matches []matcher.ProbeMatch, quality int) error {
	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return err
	}
	// Boxes come from the full-size image.
	out, err := capture.EncodeFrame(annotate.New(1).Annotate(img, matches), quality)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}
