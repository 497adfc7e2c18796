package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/imrenagi/go-tus-client/leveldbstore"
	"github.com/imrenagi/go-tus-client/tus"
)

var (
	endpoint        string
	chunkSize       int64
	storePath       string
	removeOnSuccess bool
	retries         int
	logLevel        string
	trace           bool
	metadataPairs   []string
)

var rootCmd = &cobra.Command{
	Use:   "tusup [flags] PATH...",
	Short: "Upload files to a tus server, resuming interrupted transfers",
	Long: `tusup uploads files to a tus v1.0.0 server in bounded chunks.
Directories are walked and every regular file inside is uploaded.
With --store, fingerprints are persisted so an interrupted upload
continues from the server's committed offset on the next run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:8080/files", "tus creation endpoint")
	rootCmd.Flags().Int64Var(&chunkSize, "chunk-size", 1024*1024, "bytes sent per PATCH request")
	rootCmd.Flags().StringVar(&storePath, "store", "", "leveldb directory for resumable-upload state; enables resuming")
	rootCmd.Flags().BoolVar(&removeOnSuccess, "remove-on-success", false, "forget the fingerprint once an upload completes")
	rootCmd.Flags().IntVar(&retries, "retries", 3, "transport-level retries per request")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&trace, "trace", false, "instrument requests with OpenTelemetry")
	rootCmd.Flags().StringArrayVarP(&metadataPairs, "metadata", "m", nil, "metadata entry as key=value, repeatable")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	initializeLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metadata, err := parseMetadata(metadataPairs)
	if err != nil {
		return err
	}

	config := tus.DefaultConfig()
	config.ChunkSize = chunkSize
	config.HTTPClient = newHTTPClient()

	if storePath != "" {
		store, err := leveldbstore.New(storePath)
		if err != nil {
			return fmt.Errorf("opening store %s: %w", storePath, err)
		}
		defer store.Close()
		config.Resume = true
		config.RemoveFingerprintOnSuccess = removeOnSuccess
		config.Store = store
	}

	client, err := tus.NewClient(endpoint, config)
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	paths, err := collectFiles(args)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := uploadOne(ctx, client, path, metadata); err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
	}
	return nil
}

func uploadOne(ctx context.Context, client *tus.Client, path string, metadata tus.Metadata) error {
	logger := log.With().Str("file", path).Logger()
	logger.Info().Msg("starting upload")

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	u, err := tus.NewUploadFromFile(f)
	if err != nil {
		return err
	}
	for k, v := range metadata {
		u.Metadata[k] = v
	}

	var uploader *tus.Uploader
	if storePath != "" {
		uploader, err = client.CreateOrResumeUpload(ctx, u)
	} else {
		uploader, err = client.CreateUpload(ctx, u)
	}
	if err != nil {
		return err
	}
	uploader.Progress = func(fraction float64) {
		logger.Info().Int("percent", int(fraction*100)).Msg("upload progress")
	}

	info, err := uploader.Upload(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Str("url", info.URL).
		Int64("offset", info.Offset).
		Int64("size", info.Size).
		Msg("upload complete")
	return nil
}

// newHTTPClient builds the transport the core runs on. Retry policy lives
// here, outside the protocol layer.
func newHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.Logger = nil

	httpClient := rc.StandardClient()
	if trace {
		httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)
	}
	return httpClient
}

func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func parseMetadata(pairs []string) (tus.Metadata, error) {
	metadata := make(tus.Metadata)
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid metadata entry %q, expected key=value", pair)
		}
		metadata[parts[0]] = parts[1]
	}
	return metadata, nil
}

func initializeLogger(lvl string) {
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to parse log level")
	}
	zerolog.SetGlobalLevel(level)

	stdOut := zerolog.ConsoleWriter{Out: os.Stdout}

	writers := []io.Writer{stdOut}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
}
