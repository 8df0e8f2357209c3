package retry

import "context"

// Do is a type-safe wrapper around Retryer.Do for operations that return a
// value. The value of the last successful attempt is returned.
//
// Usage:
//
//	resp, err := retry.Do(ctx, r, func(ctx context.Context, attempt int) (*http.Response, error) {
//	    return client.Do(req.WithContext(ctx))
//	})
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
