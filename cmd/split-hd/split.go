package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/cli"
	"github.com/boxtvstar/ai-split-hd/internal/filehandler"
	"github.com/boxtvstar/ai-split-hd/internal/s3util"
	"github.com/boxtvstar/ai-split-hd/internal/session"
)

// split flags
var (
	inputFlag       string
	outputFlag      string
	enhanceFlag     []int
	enhanceAllFlag  bool
	interactiveFlag bool
	pickFlag        bool
	tileFlag        int
	timeoutFlag     time.Duration
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split an image, optionally enhance tiles, and write the result",
	Long: `Split cuts the input image into a grid and writes every tile into a zip
archive. Tiles named with --enhance (or all tiles with --enhance-all) are sent
to Gemini first; each one that comes back is stored as tile-N-hd.png, the
rest as tile-N-orig.png.

The input may be a local file or an s3://bucket/key URI.

Examples:
  split-hd split -i poster.png
  split-hd split -i poster.png -r 2 -c 4 -e 1 -e 3 -o out.zip
  split-hd split -i s3://media/in/poster.png --enhance-all --s3-bucket media
  split-hd split --pick --interactive
  split-hd split -i poster.png -e 5 --tile 5 -o tile5.png`,
	RunE: runSplit,
}

func init() {
	f := splitCmd.Flags()
	f.StringVarP(&inputFlag, "input", "i", "", "Image to split (local path or s3://bucket/key)")
	f.StringVarP(&outputFlag, "output", "o", "", "Output path (default: split-images-<ms>.zip)")
	f.IntP("rows", "r", 3, "Grid rows")
	f.IntP("cols", "c", 3, "Grid columns")
	f.IntSliceVarP(&enhanceFlag, "enhance", "e", nil, "Tile ID to enhance (repeatable)")
	f.BoolVar(&enhanceAllFlag, "enhance-all", false, "Enhance every tile")
	f.BoolVar(&interactiveFlag, "interactive", false, "Ask which tiles to enhance after splitting")
	f.BoolVar(&pickFlag, "pick", false, "Choose the input with a native file dialog")
	f.IntVar(&tileFlag, "tile", 0, "Write only this tile as a PNG instead of a zip")
	f.DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "Maximum time to wait for enhancements")
	f.String("s3-bucket", "", "Upload the archive to this bucket")

	bindFlag(splitCmd, "grid.rows", "rows")
	bindFlag(splitCmd, "grid.cols", "cols")
	bindFlag(splitCmd, "s3.bucket", "s3-bucket")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

func runSplit(cmd *cobra.Command, _ []string) error {
	initStart := time.Now()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, cols := cfg.Grid.Rows, cfg.Grid.Cols
	wantsEnhance := len(enhanceFlag) > 0 || enhanceAllFlag || interactiveFlag

	logStartup("split").
		Feature("enhance", wantsEnhance).
		Feature("pick", pickFlag).
		InitDuration(time.Since(initStart)).
		Log()

	source, err := readSource(ctx)
	if err != nil {
		return err
	}

	// The Gemini client is only needed when something will be enhanced;
	// RequestEnhance is never called otherwise.
	var enhancer session.Enhancer
	if wantsEnhance {
		enhancer = cli.InitEnhancer(ctx, cfg.Gemini, false)
	}

	s := session.New(enhancer, session.WithExporter(newExporter()))
	defer s.Close()

	if err := s.Split(ctx, source, rows, cols); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	tiles := s.Tiles()
	fmt.Fprintf(cmd.OutOrStdout(), "Split into %d tiles (%dx%d)\n", len(tiles), rows, cols)
	if err := cli.PrintTileTable(cmd.OutOrStdout(), tiles); err != nil {
		log.Warn().Err(err).Msg("Failed to print tile table")
	}

	ids, err := tilesToEnhance(cmd, len(tiles))
	if err != nil {
		return err
	}

	enhanceStart := time.Now()
	accepted := 0
	if enhanceAllFlag {
		accepted = s.EnhanceAll()
	} else {
		for _, id := range ids {
			if s.RequestEnhance(id) {
				accepted++
			} else {
				log.Warn().Int("tile", id).Msg("Tile cannot be enhanced; skipping")
			}
		}
	}

	if accepted > 0 {
		log.Info().Int("tiles", accepted).Msg("Waiting for enhancements")
		if err := waitForEnhancements(ctx, s, timeoutFlag); err != nil {
			return err
		}
		reportEnhancements(cmd, s.Tiles(), accepted, time.Since(enhanceStart))
	}

	return writeResult(ctx, cmd, s)
}

// readSource loads the split input from the dialog, S3, or disk.
func readSource(ctx context.Context) ([]byte, error) {
	input := inputFlag
	if input == "" {
		if !pickFlag {
			return nil, errors.New("no input: pass --input or --pick")
		}
		picked, err := cli.PickImageFile()
		if err != nil {
			return nil, err
		}
		input = picked
	}

	if s3util.IsURI(input) {
		bucket, key, err := s3util.ParseURI(input)
		if err != nil {
			return nil, err
		}
		clients, err := s3util.NewClients(ctx, cfg.S3.WithBucket(bucket))
		if err != nil {
			return nil, err
		}
		return s3util.DownloadSource(ctx, clients.Client, bucket, key)
	}

	path, err := cli.ResolveInputFile(input)
	if err != nil {
		return nil, err
	}
	src, err := filehandler.LoadSourceFile(path)
	if err != nil {
		return nil, err
	}

	evt := log.Info().Str("path", src.Path).Str("mime_type", src.MIMEType).Int64("size", src.Size)
	if m := src.Metadata; m != nil {
		if camera := m.Camera(); camera != "" {
			evt = evt.Str("camera", camera)
		}
		if m.HasDate {
			evt = evt.Time("taken", m.DateTaken)
		}
	}
	evt.Msg("Source image loaded")
	return src.Data, nil
}

func tilesToEnhance(cmd *cobra.Command, count int) ([]int, error) {
	if !interactiveFlag {
		return enhanceFlag, nil
	}
	return cli.PromptForTileIDs(cmd.InOrStdin(), cmd.OutOrStdout(), count)
}

// waitForEnhancements blocks until every request has settled, the timeout
// passes, or the user interrupts. On timeout or interrupt the session is
// closed so outstanding calls are cancelled and their tiles keep the original.
func waitForEnhancements(ctx context.Context, s *session.Session, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		pending := cli.SummarizeTiles(s.Tiles()).Pending
		log.Warn().
			Dur("timeout", timeout).
			Int("pending", pending).
			Msg("Enhancements timed out; exporting what is ready")
		return nil
	case <-ctx.Done():
		s.Close()
		<-done
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
}

// reportEnhancements logs each failed tile and prints a summary of the
// final tile snapshot.
func reportEnhancements(cmd *cobra.Command, tiles []session.Tile, accepted int, elapsed time.Duration) {
	for _, t := range tiles {
		if t.Failed() {
			log.Error().Err(t.LastErr).Int("tile", t.ID).Msg("Enhancement failed; keeping original")
		}
	}

	sum := cli.SummarizeTiles(tiles)
	fmt.Fprintf(cmd.OutOrStdout(), "Enhanced %d of %d tiles in %s", sum.Enhanced, accepted, cli.FormatDurationShort(elapsed))
	if sum.Failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", sum.Failed)
	}
	if sum.Pending > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d still pending (exported as original)", sum.Pending)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}

func writeResult(ctx context.Context, cmd *cobra.Command, s *session.Session) error {
	var (
		name string
		data []byte
		err  error
	)
	if tileFlag > 0 {
		name, data, err = s.ExportTile(tileFlag)
		if err != nil {
			return fmt.Errorf("tile %d: %w", tileFlag, err)
		}
	} else {
		name = archive.ArchiveName(time.Now())
		data, err = s.ExportAll()
		if err != nil {
			return err
		}
	}

	out := outputFlag
	if out == "" {
		out = name
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(data))

	if !cfg.S3.Enabled() {
		return nil
	}
	return uploadResult(ctx, cmd, s.ID(), filepath.Base(out), data)
}

func uploadResult(ctx context.Context, cmd *cobra.Command, sessionID, name string, data []byte) error {
	clients, err := s3util.NewClients(ctx, cfg.S3)
	if err != nil {
		return err
	}

	key := s3util.ArchiveKey(clients.Prefix, sessionID, name)
	if err := s3util.UploadArchive(ctx, clients.Client, clients.Bucket, key, data); err != nil {
		return err
	}

	url, err := s3util.GeneratePresignedURL(ctx, clients.Presigner, clients.Bucket, key, cfg.S3.PresignTTL)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Uploaded but could not presign")
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded s3://%s/%s\n", clients.Bucket, key)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded s3://%s/%s\nDownload: %s\n", clients.Bucket, key, url)
	return nil
}

func newExporter() *archive.Exporter {
	method, err := archive.ParseMethod(cfg.Archive.Method)
	if err != nil {
		method = archive.MethodDeflate
	}
	return archive.NewExporter(method)
}
