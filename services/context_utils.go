package services

import "context"

// persistentContext keeps the request's values but drops its cancellation,
// so work that follows a commit (enqueuing notifications) still runs when
// the client disconnects right after the response.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
