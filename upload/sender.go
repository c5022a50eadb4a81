package upload

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	stepanalytics "github.com/bitrise-io/go-fileupload/analytics"
	"github.com/bitrise-io/go-fileupload/export"
	"github.com/bitrise-io/go-fileupload/upload/network"
	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
	"github.com/bitrise-io/go-fileupload/upload/source"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
)

// Step outputs
const (
	StatusOutputKey = "FILE_UPLOAD_STATUS"
	HandleOutputKey = "FILE_UPLOAD_HANDLE"
	BytesOutputKey  = "FILE_UPLOAD_BYTES"
)

// TransportFactory builds the transport for the configured backend.
type TransportFactory func(ctx context.Context, config Config, logger log.Logger) (chunkuploader.Transport, error)

// OutputExporter ...
type OutputExporter interface {
	ExportOutput(key, value string) error
	ExportOutputNoExpand(key, value string) error
}

// Sender ...
type Sender struct {
	envRepo          env.Repository
	logger           log.Logger
	resolver         *source.Resolver
	exporter         OutputExporter
	transportFactory TransportFactory
	trackerFactory   stepanalytics.TrackerFactory
}

// NewSender creates a Sender with the default transports. `transportFactory` and `trackerFactory` can be nil,
// unless you want to provide custom implementations.
func NewSender(
	envRepo env.Repository,
	logger log.Logger,
	cmdFactory command.Factory,
	transportFactory TransportFactory,
	trackerFactory stepanalytics.TrackerFactory,
) *Sender {
	if transportFactory == nil {
		transportFactory = NewTransport
	}
	if trackerFactory == nil {
		trackerFactory = analytics.NewDefaultTracker
	}
	exporter := export.NewExporter(cmdFactory)

	return &Sender{
		envRepo: envRepo,
		logger:  logger,
		resolver: source.NewResolver(
			logger,
			pathutil.NewPathProvider(),
			pathutil.NewPathModifier(),
			pathutil.NewPathChecker(),
			http.DefaultClient,
		),
		exporter:         &exporter,
		transportFactory: transportFactory,
		trackerFactory:   trackerFactory,
	}
}

// NewTransport returns the APIClient or the S3Transport depending on config.Backend.
func NewTransport(ctx context.Context, config Config, logger log.Logger) (chunkuploader.Transport, error) {
	switch config.Backend {
	case BackendS3:
		partSize := config.ChunkSize
		if config.UploadMode == ModeWhole && partSize < network.MinS3PartSize {
			partSize = network.MinS3PartSize
		}
		return network.NewS3Transport(ctx, network.S3Params{
			Bucket:          config.S3Bucket,
			Region:          config.S3Region,
			KeyPrefix:       config.S3KeyPrefix,
			AccessKeyID:     string(config.AWSAccessKeyID),
			SecretAccessKey: string(config.AWSSecretAccessKey),
			PartSize:        partSize,
		}, logger)
	case BackendAPI:
		return network.NewAPIClient(network.NewHTTPClient(logger), config.APIBaseURL, string(config.APIToken), logger), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", config.Backend)
	}
}

// Send uploads the configured source and exports the result as step outputs.
//
// The returned error is nil for completed and cancelled uploads. A nil token means the upload can only be
// stopped by cancelling ctx.
func (s *Sender) Send(ctx context.Context, config Config, token *chunkuploader.CancelToken) (chunkuploader.Outcome, error) {
	s.logger.TDebugf("Send start")
	defer func() {
		s.logger.TDebugf("Send done")
	}()

	if token == nil {
		token = chunkuploader.NewCancelToken()
	}

	tracker := newStepTracker(s.envRepo, s.logger, s.trackerFactory)
	defer tracker.wait()
	s.logger.TDebugf("Tracker created")

	outcome, err := s.send(ctx, config, token)
	if err != nil && outcome.State != chunkuploader.StateFailed {
		outcome.State = chunkuploader.StateFailed
	}

	s.logger.Println()
	switch outcome.State {
	case chunkuploader.StateCompleted:
		s.logger.Donef("Upload successful: %s uploaded in %s",
			units.HumanSizeWithPrecision(float64(outcome.BytesTransferred), 3),
			outcome.Duration.Round(time.Millisecond))
	case chunkuploader.StateCancelled:
		s.logger.Warnf("Upload cancelled! %s of %s (%.0f%%) was sent",
			units.HumanSizeWithPrecision(float64(outcome.BytesTransferred), 3),
			units.HumanSizeWithPrecision(float64(outcome.TotalSize), 3),
			chunkuploader.Fraction(outcome.BytesTransferred, outcome.TotalSize)*100)
	default:
		s.logger.Errorf("Upload failed: %s", err)
	}

	tracker.logUploadFinished(outcome, config)

	if exportErr := s.exportOutputs(outcome); exportErr != nil {
		if err == nil {
			return outcome, fmt.Errorf("failed to export outputs: %w", exportErr)
		}
		s.logger.Warnf("Failed to export outputs: %s", exportErr)
	}
	s.logger.TDebugf("Outputs exported")

	return outcome, err
}

func (s *Sender) send(ctx context.Context, config Config, token *chunkuploader.CancelToken) (chunkuploader.Outcome, error) {
	s.logger.Println()
	s.logger.Infof("Resolving source...")
	resolved, err := s.resolver.Resolve(ctx, config.SourcePath, config.CompressionLevel)
	if err != nil {
		return chunkuploader.Outcome{}, fmt.Errorf("failed to resolve source: %w", err)
	}
	defer func() {
		if err := resolved.Cleanup(); err != nil {
			s.logger.Warnf("Failed to remove temporary files: %s", err)
		}
	}()
	s.logger.TDebugf("Source resolved")

	name := config.FileName
	if name == "" {
		name = resolved.Name
	}
	s.logger.Printf("Source: %s (%s)", resolved.Path, resolved.Kind)
	s.logger.Printf("File name: %s", name)
	s.logger.Printf("File size: %s", units.HumanSizeWithPrecision(float64(resolved.Size), 3))

	transport, err := s.transportFactory(ctx, config, s.logger)
	if err != nil {
		return chunkuploader.Outcome{TotalSize: resolved.Size}, fmt.Errorf("failed to create %s transport: %w", config.Backend, err)
	}

	uploader, err := chunkuploader.New(chunkuploader.Config{ChunkSize: config.ChunkSize}, transport, s.logger)
	if err != nil {
		return chunkuploader.Outcome{TotalSize: resolved.Size}, err
	}

	src, err := chunkuploader.OpenFile(resolved.Path)
	if err != nil {
		return chunkuploader.Outcome{TotalSize: resolved.Size}, &chunkuploader.SourceReadError{Err: err}
	}
	s.logger.Debugf("Reading %s (%d bytes)", src.Name(), src.Size())

	progress := NewProgressLogger(s.logger)

	s.logger.Println()
	if config.UploadMode == ModeWhole {
		s.logger.Infof("Uploading %s in a single request to the %s backend...", name, config.Backend)
		return uploader.RunWhole(ctx, src, name, progress.Report, token)
	}

	count, _ := chunkuploader.ChunkLayout(resolved.Size, config.ChunkSize)
	s.logger.Infof("Uploading %s in %d chunk(s) of %s to the %s backend...",
		name, count, units.HumanSizeWithPrecision(float64(config.ChunkSize), 3), config.Backend)
	outcome, err := uploader.RunChunked(ctx, src, name, progress.Report, token)

	stats := uploader.Stats()
	if stats.FinishedCount() > 0 {
		s.logger.Debugf("Chunks: %d, average send time: %s, throughput: %s/s",
			stats.FinishedCount(),
			stats.Average().Round(time.Millisecond),
			units.HumanSizeWithPrecision(stats.BytesPerSecond(), 3))
	}

	return outcome, err
}

func (s *Sender) exportOutputs(outcome chunkuploader.Outcome) error {
	if err := s.exporter.ExportOutput(StatusOutputKey, outcome.State.String()); err != nil {
		return err
	}
	if err := s.exporter.ExportOutputNoExpand(HandleOutputKey, outcome.Handle); err != nil {
		return err
	}
	return s.exporter.ExportOutput(BytesOutputKey, strconv.FormatInt(outcome.BytesTransferred, 10))
}
