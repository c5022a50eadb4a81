// Package upload implements the file upload step: it resolves the source, picks a transport,
// runs the chunk uploader and reports the result.
package upload

import (
	"fmt"
	"strings"

	"github.com/bitrise-io/go-fileupload/upload/network"
	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
	"github.com/bitrise-io/go-steputils/v2/stepconf"
)

// Upload modes
const (
	ModeChunked = "chunked"
	ModeWhole   = "whole"
)

// Backends
const (
	BackendAPI = "api"
	BackendS3  = "s3"
)

const defaultCompressionLevel = 3

// Input is the raw step input, parsed from the environment with stepconf.
type Input struct {
	SourcePath         string          `env:"source_path,required"`
	FileName           string          `env:"file_name"`
	UploadMode         string          `env:"upload_mode"`
	ChunkSize          int64           `env:"chunk_size"`
	Backend            string          `env:"backend"`
	APIBaseURL         string          `env:"api_base_url"`
	APIToken           stepconf.Secret `env:"api_token"`
	S3Bucket           string          `env:"s3_bucket"`
	S3Region           string          `env:"s3_region"`
	S3KeyPrefix        string          `env:"s3_key_prefix"`
	AWSAccessKeyID     stepconf.Secret `env:"aws_access_key_id"`
	AWSSecretAccessKey stepconf.Secret `env:"aws_secret_access_key"`
	// CompressionLevel is the zstd compression level used for directories and globs. Valid values are between 1 and 19.
	// If not provided (0), the default value (3) will be used.
	CompressionLevel int  `env:"compression_level"`
	Verbose          bool `env:"verbose"`
}

// Config is the validated form of Input with defaults applied.
type Config struct {
	SourcePath         string
	FileName           string
	UploadMode         string
	ChunkSize          int64
	Backend            string
	APIBaseURL         string
	APIToken           stepconf.Secret
	S3Bucket           string
	S3Region           string
	S3KeyPrefix        string
	AWSAccessKeyID     stepconf.Secret
	AWSSecretAccessKey stepconf.Secret
	CompressionLevel   int
	Verbose            bool
}

// NewConfig validates input and fills in defaults.
func NewConfig(input Input) (Config, error) {
	config := Config{
		SourcePath:         strings.TrimSpace(input.SourcePath),
		FileName:           strings.TrimSpace(input.FileName),
		UploadMode:         strings.ToLower(strings.TrimSpace(input.UploadMode)),
		ChunkSize:          input.ChunkSize,
		Backend:            strings.ToLower(strings.TrimSpace(input.Backend)),
		APIBaseURL:         strings.TrimSpace(input.APIBaseURL),
		APIToken:           input.APIToken,
		S3Bucket:           strings.TrimSpace(input.S3Bucket),
		S3Region:           strings.TrimSpace(input.S3Region),
		S3KeyPrefix:        strings.Trim(strings.TrimSpace(input.S3KeyPrefix), "/"),
		AWSAccessKeyID:     input.AWSAccessKeyID,
		AWSSecretAccessKey: input.AWSSecretAccessKey,
		CompressionLevel:   input.CompressionLevel,
		Verbose:            input.Verbose,
	}

	if config.SourcePath == "" {
		return Config{}, fmt.Errorf("source path should not be empty")
	}
	if strings.ContainsAny(config.FileName, `/\`) {
		return Config{}, fmt.Errorf("file name should not contain path separators: %s", config.FileName)
	}

	if config.UploadMode == "" {
		config.UploadMode = ModeChunked
	}
	if config.UploadMode != ModeChunked && config.UploadMode != ModeWhole {
		return Config{}, fmt.Errorf("upload mode should be %s or %s, got: %s", ModeChunked, ModeWhole, input.UploadMode)
	}

	if config.ChunkSize == 0 {
		config.ChunkSize = chunkuploader.DefaultChunkSize
	}
	if err := (chunkuploader.Config{ChunkSize: config.ChunkSize}).Validate(); err != nil {
		return Config{}, err
	}

	if config.CompressionLevel == 0 {
		config.CompressionLevel = defaultCompressionLevel
	}
	if config.CompressionLevel < 1 || config.CompressionLevel > 19 {
		return Config{}, fmt.Errorf("compression level should be between 1 and 19")
	}

	if config.Backend == "" {
		config.Backend = BackendAPI
	}
	switch config.Backend {
	case BackendAPI:
		if config.APIBaseURL == "" {
			return Config{}, fmt.Errorf("api_base_url should be set for the %s backend", BackendAPI)
		}
	case BackendS3:
		if config.S3Bucket == "" {
			return Config{}, fmt.Errorf("s3_bucket should be set for the %s backend", BackendS3)
		}
		if config.S3Region == "" {
			return Config{}, fmt.Errorf("s3_region should be set for the %s backend", BackendS3)
		}
		if (config.AWSAccessKeyID == "") != (config.AWSSecretAccessKey == "") {
			return Config{}, fmt.Errorf("aws_access_key_id and aws_secret_access_key should be set together")
		}
		if config.UploadMode == ModeChunked && config.ChunkSize < network.MinS3PartSize {
			return Config{}, fmt.Errorf("chunk size should be at least %d bytes for the %s backend, got: %d", network.MinS3PartSize, BackendS3, config.ChunkSize)
		}
	default:
		return Config{}, fmt.Errorf("backend should be %s or %s, got: %s", BackendAPI, BackendS3, input.Backend)
	}

	return config, nil
}
