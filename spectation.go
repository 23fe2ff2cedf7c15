package spectation

import (
	"context"

	"spectation/resolver"
	"spectation/youtube"
)

// Resolve normalizes rawURL and resolves it against the backend at
// endpoint, negotiating quality.
func Resolve(ctx context.Context, endpoint, rawURL, quality string) (*youtube.ResolvedVideo, error) {
	ref, err := youtube.NormalizeReference(rawURL)
	if err != nil {
		return nil, err
	}
	return resolver.New(resolver.Options{Endpoint: endpoint}).Resolve(ctx, ref, quality)
}
