package network

import (
	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
)

var (
	_ chunkuploader.Transport = (*APIClient)(nil)
	_ chunkuploader.Transport = (*S3Transport)(nil)
)
