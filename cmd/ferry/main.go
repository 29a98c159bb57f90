package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/studio-b12/gowebdav"

	"github.com/ferrydev/ferry/internal/backend"
	"github.com/ferrydev/ferry/internal/config"
	"github.com/ferrydev/ferry/internal/engine"
	"github.com/ferrydev/ferry/internal/progress"
	"github.com/ferrydev/ferry/internal/transform"
)

var version = "dev"

// backendFor creates a Backend for the given location.
//
//nolint:ireturn // factory returns interface by design
func backendFor(loc backend.Location, sshKeyFile string, sshPort int, davPassword string) (backend.Backend, error) {
	switch {
	case loc.IsWebDAV():
		client := gowebdav.NewClient(loc.URL, loc.User, davPassword)
		return backend.NewWebDAV(client), nil
	case loc.IsRemote():
		sshClient, err := backend.DialSSH(loc.Host, loc.User, backend.SSHOpts{
			Port:    sshPort,
			KeyFile: sshKeyFile,
		})
		if err != nil {
			return nil, err
		}
		return backend.NewSFTP(sshClient)
	default:
		return backend.NewLocal(), nil
	}
}

func parseCompression(s string) (transform.Mode, error) {
	switch s {
	case "", "auto":
		return transform.Auto, nil
	case "on":
		return transform.On, nil
	case "off":
		return transform.Off, nil
	}
	return transform.Auto, fmt.Errorf("invalid compression mode %q (want auto, on or off)", s)
}

func parseConflict(s string) (engine.ConflictPolicy, error) {
	switch s {
	case "", "ask":
		return engine.ConflictAsk, nil
	case "overwrite":
		return engine.ConflictOverwrite, nil
	case "skip":
		return engine.ConflictSkip, nil
	}
	return engine.ConflictAsk, fmt.Errorf("invalid conflict policy %q (want ask, overwrite or skip)", s)
}

func main() {
	os.Exit(run())
}

//nolint:gocyclo,revive // cyclomatic: main CLI entry point orchestrates all flag parsing
func run() int {
	var (
		chunks         int
		workers        int
		verifyFlag     bool
		bwLimitStr     string
		compressionStr string
		compressAlgo   string
		conflictStr    string
		retries        int
		preserve       bool
		strict         bool
		verbose        bool
		quiet          bool
		sshKeyFile     string
		sshPort        int
		davPassword    string
		stallTimeout   time.Duration
		showVersion    bool
	)

	rootCmd := &cobra.Command{
		Use:   "ferry [flags] <source> <destination>",
		Short: "Parallel, resumable file transfer across local, SFTP and WebDAV endpoints",
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "ferry %s\n", version)
				return nil
			}

			srcLoc := backend.ParseLocation(args[0])
			dstLoc := backend.ParseLocation(args[1])

			// Configure logging.
			logLevel := slog.LevelWarn
			if verbose {
				logLevel = slog.LevelDebug
			} else if !quiet {
				logLevel = slog.LevelInfo
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			}))
			slog.SetDefault(logger)

			// Load optional config file; CLI flags win over config values.
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults, &verifyFlag, &workers, &chunks,
				&bwLimitStr, &compressionStr, &conflictStr, &retries, &preserve, &strict)

			var bwLimit int64
			if bwLimitStr != "" {
				bwLimit, err = config.ParseByteSize(bwLimitStr)
				if err != nil {
					return fmt.Errorf("invalid --bwlimit: %w", err)
				}
			}
			compression, err := parseCompression(compressionStr)
			if err != nil {
				return err
			}
			conflict, err := parseConflict(conflictStr)
			if err != nil {
				return err
			}
			frame, err := transform.ForName(compressAlgo)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			src, err := backendFor(srcLoc, sshKeyFile, sshPort, davPassword)
			if err != nil {
				return fmt.Errorf("source %s: %w", srcLoc, err)
			}
			defer src.Close()

			dst, err := backendFor(dstLoc, sshKeyFile, sshPort, davPassword)
			if err != nil {
				return fmt.Errorf("destination %s: %w", dstLoc, err)
			}
			defer dst.Close()

			eng := engine.New(logger)
			handle, err := eng.Submit(ctx, engine.JobSpec{
				Src:     src,
				SrcPath: srcLoc.Path,
				Dst:     dst,
				DstPath: dstLoc.Path,
				Options: engine.Options{
					ChunkCount:     chunks,
					Workers:        workers,
					Verify:         verifyFlag,
					BandwidthLimit: bwLimit,
					Compression:    compression,
					Transform:      frame,
					Conflict:       conflict,
					Retry:          engine.RetryPolicy{Attempts: retries},
					StallTimeout:   stallTimeout,
					Preserve:       preserve,
					Strict:         strict,
				},
			})
			if err != nil {
				return err
			}

			events, err := eng.Subscribe(handle)
			if err != nil {
				return err
			}
			var consumerWg sync.WaitGroup
			consumerWg.Add(1)
			go func() {
				defer consumerWg.Done()
				consumeEvents(events, quiet, verbose)
			}()

			result, err := eng.Result(context.Background(), handle)
			consumerWg.Wait()
			if err != nil {
				return err
			}

			if !quiet {
				snap, snapErr := eng.Progress(handle)
				if snapErr == nil {
					fmt.Fprintln(os.Stderr, summarize(result, snap))
				}
			}

			switch result.Outcome() {
			case engine.Success:
				return nil
			case engine.PartialFailure:
				return &exitError{code: 1}
			default:
				return &exitError{code: 2}
			}
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.Flags().
		IntVarP(&chunks, "chunks", "c", 0, "number of chunks per file (default: auto)")
	rootCmd.Flags().
		IntVarP(&workers, "workers", "n", 0, "number of concurrent chunk workers (default: NumCPU)")
	rootCmd.Flags().BoolVar(&verifyFlag, "verify", false, "verify whole-file checksums after transfer (BLAKE3)")
	rootCmd.Flags().
		StringVar(&bwLimitStr, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G); forces sequential transfer")
	rootCmd.Flags().
		StringVar(&compressionStr, "compression", "auto", "wire compression: auto, on or off")
	rootCmd.Flags().
		StringVar(&compressAlgo, "compression-algo", "zstd", "compression algorithm: zstd or lz4")
	rootCmd.Flags().
		StringVar(&conflictStr, "conflict", "ask", "existing-destination policy: ask, overwrite or skip")
	rootCmd.Flags().IntVar(&retries, "retries", 3, "retry attempts per chunk for transient failures")
	rootCmd.Flags().BoolVarP(&preserve, "preserve", "p", false, "preserve file permissions")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "abort the whole job on the first file failure")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.Flags().
		StringVar(&sshKeyFile, "ssh-key", "", "SSH private key file (default: auto-detect)")
	rootCmd.Flags().IntVar(&sshPort, "ssh-port", 22, "SSH port")
	rootCmd.Flags().
		StringVar(&davPassword, "dav-password", "", "WebDAV password (or set FERRY_DAV_PASSWORD)")
	rootCmd.Flags().
		DurationVar(&stallTimeout, "stall-timeout", 30*time.Second, "fail a chunk whose stream makes no progress for this long")

	rootCmd.AddCommand(docsCmd)

	if davPassword == "" {
		davPassword = os.Getenv("FERRY_DAV_PASSWORD")
	}

	if err := rootCmd.Execute(); err != nil {
		if exitErr, ok := err.(*exitError); ok {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// consumeEvents renders the event stream as inline feed output.
func consumeEvents(events <-chan progress.Event, quiet, verbose bool) {
	for ev := range events {
		switch ev.Type {
		case progress.FileCompleted:
			if !quiet {
				fmt.Fprintf(os.Stderr, "  %s (%s)\n", ev.Path, humanBytes(ev.BytesDelta))
			}
		case progress.FileSkipped:
			if verbose {
				fmt.Fprintf(os.Stderr, "  %s (skipped)\n", ev.Path)
			}
		case progress.FileFailed, progress.VerifyFailed:
			fmt.Fprintf(os.Stderr, "  %s: %v\n", ev.Path, ev.Error)
		case progress.VerifyOK:
			if verbose {
				fmt.Fprintf(os.Stderr, "  %s (verified)\n", ev.Path)
			}
		}
	}
}

func summarize(result engine.TransferResult, snap progress.Snapshot) string {
	s := fmt.Sprintf("%d file(s), %s in %s (%s/s)",
		len(result.Succeeded),
		humanBytes(result.BytesTransferred),
		snap.Elapsed.Round(10*time.Millisecond),
		humanBytes(int64(snap.Rate)),
	)
	if len(result.Skipped) > 0 {
		s += fmt.Sprintf(", %d skipped", len(result.Skipped))
	}
	if len(result.Failed) > 0 {
		s += fmt.Sprintf(", %d failed", len(result.Failed))
	}
	return s
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func applyConfigDefaults(
	cmd *cobra.Command,
	defaults config.DefaultsConfig,
	verify *bool,
	workers, chunks *int,
	bwLimit, compression, conflict *string,
	retries *int,
	preserve, strict *bool,
) {
	flags := cmd.Flags()
	if !flags.Changed("verify") && defaults.Verify != nil {
		*verify = *defaults.Verify
	}
	if !flags.Changed("workers") && defaults.Workers != nil {
		*workers = *defaults.Workers
	}
	if !flags.Changed("chunks") && defaults.Chunks != nil {
		*chunks = *defaults.Chunks
	}
	if !flags.Changed("bwlimit") && defaults.BWLimit != nil {
		*bwLimit = *defaults.BWLimit
	}
	if !flags.Changed("compression") && defaults.Compression != nil {
		*compression = *defaults.Compression
	}
	if !flags.Changed("conflict") && defaults.Conflict != nil {
		*conflict = *defaults.Conflict
	}
	if !flags.Changed("retries") && defaults.Retries != nil {
		*retries = *defaults.Retries
	}
	if !flags.Changed("preserve") && defaults.Preserve != nil {
		*preserve = *defaults.Preserve
	}
	if !flags.Changed("strict") && defaults.Strict != nil {
		*strict = *defaults.Strict
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
