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
	"net/http"
	"time"
)

const minRequestInterval = 100 * time.Millisecond

// newRateLimitedRoundTripper wraps rt so that requests are paced to at
// most requestsPerMinute, with a small burst allowance. Tokens refill
// on a ticker for the lifetime of the client.
func newRateLimitedRoundTripper(rt http.RoundTripper, requestsPerMinute int) http.RoundTripper {
	reqInterval := time.Minute / time.Duration(requestsPerMinute)
	if reqInterval < minRequestInterval {
		reqInterval = minRequestInterval
	}

	token := make(chan struct{}, 5)
	for i := 0; i < cap(token); i++ {
		token <- struct{}{}
	}

	ticker := time.NewTicker(reqInterval)
	go func() {
		for range ticker.C {
			select {
			case token <- struct{}{}:
			default:
			}
		}
	}()

	return rateLimitedRoundTripper{
		RoundTripper: rt,
		token:        token,
	}
}

type rateLimitedRoundTripper struct {
	http.RoundTripper
	token <-chan struct{}
}

func (rt rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-rt.token:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	return rt.RoundTripper.RoundTrip(req)
}
