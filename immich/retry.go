/*
	Photomigrate
	Copyright (c) 2025 The Photomigrate Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package immich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// StatusError is a non-success HTTP response from the server.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: server returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: server returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// HTTPStatus reports the response status so callers can classify the
// failure without importing this package's error type.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// do runs one logical API call through the retry policy. newReq must
// build a fresh request for every attempt, since a request body can
// only be consumed once. okStatuses are the codes treated as success;
// everything else becomes a *StatusError, retried only when transient.
//
// Transient: 5xx, 429 (honoring Retry-After), and transport errors.
// A 4xx other than 429 fails immediately, the server will not change
// its mind about a bad request.
func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error), okStatuses ...int) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.backoff(attempt, lastErr)
			c.log.Debug("retrying request",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		for _, ok := range okStatuses {
			if resp.StatusCode == ok {
				return resp, nil
			}
		}

		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.URL.Path,
			Message:    readErrorMessage(resp),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		resp.Body.Close()

		if !retriable(resp.StatusCode) {
			return nil, statusErr
		}
		lastErr = statusErr
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.retry.maxAttempts, lastErr)
}

func retriable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// backoff doubles the base delay per attempt, capped, except that a 429
// carrying Retry-After waits exactly what the server asked for.
func (p retryPolicy) backoff(attempt int, lastErr error) time.Duration {
	if se, ok := lastErr.(*StatusError); ok && se.StatusCode == http.StatusTooManyRequests && se.retryAfter > 0 {
		return se.retryAfter
	}
	delay := p.baseDelay << (attempt - 1)
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// parseRetryAfter handles the delay-seconds form of the header; the
// HTTP-date form is rare enough to ignore.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// readErrorMessage pulls a short diagnostic out of an error response
// body without trusting its size.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil || len(body) == 0 {
		return ""
	}
	return string(body)
}
