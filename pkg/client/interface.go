package client

import (
	"context"

	"github.com/menta2k/cropframe/pkg/types"
)

// VisionClient is a vision model backend able to look at a base64 image.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
}
