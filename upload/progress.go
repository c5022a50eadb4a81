package upload

import (
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// ProgressLogger prints a line every time the upload crosses a 10% band.
type ProgressLogger struct {
	logger log.Logger

	mu       sync.Mutex
	lastBand int
}

// NewProgressLogger ...
func NewProgressLogger(logger log.Logger) *ProgressLogger {
	return &ProgressLogger{logger: logger}
}

// Report has the chunkuploader.ProgressFunc signature.
func (p *ProgressLogger) Report(bytesTransferred, totalSize int64) {
	band := progressBand(bytesTransferred, totalSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	if band <= p.lastBand {
		return
	}
	p.lastBand = band

	p.logger.Printf("Uploaded %d%% (%s / %s)",
		band*10,
		units.HumanSizeWithPrecision(float64(bytesTransferred), 3),
		units.HumanSizeWithPrecision(float64(totalSize), 3),
	)
}

// progressBand returns the completed tenth of the upload, 0 to 10.
func progressBand(bytesTransferred, totalSize int64) int {
	if totalSize <= 0 {
		return 10
	}
	if bytesTransferred <= 0 {
		return 0
	}
	if bytesTransferred >= totalSize {
		return 10
	}
	return int(bytesTransferred * 10 / totalSize)
}
