package manager

import (
	"fmt"
	"strings"

	"github.com/zhangcong2019/hsf-pipeline/internal/pipeline"
)

// streamPlaceholder is the pipelineConfig substring that opts a config
// into accepting a streamNum greater than mediaUri.size(): segments with
// no URI of their own still carry a terminal EndOfRequest Blob.
const streamPlaceholder = "{stream}"

// validateRun checks a RUN/AUTO_RUN request's mediaUris against
// pipelineConfig and streamNum, returning pipeline.ErrBadRequest when
// either is malformed.
func validateRun(pipelineConfig string, streamNum int, mediaURIs []string) error {
	if len(mediaURIs) == 0 {
		return fmt.Errorf("%w: mediaUri is empty", pipeline.ErrBadRequest)
	}
	if streamNum > len(mediaURIs) && !strings.Contains(pipelineConfig, streamPlaceholder) {
		return fmt.Errorf("%w: streamNum %d exceeds mediaUri count %d", pipeline.ErrBadRequest, streamNum, len(mediaURIs))
	}
	return nil
}
