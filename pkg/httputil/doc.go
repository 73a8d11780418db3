// Package httputil provides retry helpers for outbound calls to HTTP
// providers such as the email API.
//
// [Retry] repeats a call only when the error is marked with [Retryable] or
// [RetryAfter]. The pause doubles after each attempt and is never shorter
// than a provider's Retry-After:
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    resp, err := send()
//	    if err != nil {
//	        return httputil.Retryable(err)
//	    }
//	    if httputil.TransientStatus(resp.StatusCode) {
//	        wait := httputil.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
//	        return httputil.RetryAfter(fmt.Errorf("status %d", resp.StatusCode), wait)
//	    }
//	    return nil
//	})
package httputil
