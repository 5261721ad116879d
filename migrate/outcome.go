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

package migrate

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Disposition classifies what happened to one item.
type Disposition int

const (
	// DispositionUploaded: new content, uploaded to the server.
	DispositionUploaded Disposition = iota + 1
	// DispositionDuplicate: content already uploaded earlier in this run
	// (or already stored server-side) and the server copy lacked nothing.
	DispositionDuplicate
	// DispositionMetadataUpdated: content existed remotely but the local
	// record carried capture time or GPS the server was missing.
	DispositionMetadataUpdated
	// DispositionMetadataCorrect: content existed remotely before this
	// run and the server copy already had everything the local record has.
	DispositionMetadataCorrect
	// DispositionFailed: the item could not be processed; Outcome.Err
	// and Outcome.Kind say why.
	DispositionFailed
)

func (d Disposition) String() string {
	switch d {
	case DispositionUploaded:
		return "uploaded-new"
	case DispositionDuplicate:
		return "duplicate-skipped"
	case DispositionMetadataUpdated:
		return "metadata-updated"
	case DispositionMetadataCorrect:
		return "metadata-already-correct"
	case DispositionFailed:
		return "failed"
	}
	return "unknown"
}

// ErrorKind buckets item failures per the run's error taxonomy.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	// ErrorLocal: unreadable file, malformed input, and other
	// filesystem-side problems.
	ErrorLocal
	// ErrorNetwork: transient transport failure that exhausted retries.
	ErrorNetwork
	// ErrorAuth: 401/403 from the server; never retried.
	ErrorAuth
	// ErrorInvalid: non-retryable request rejection (4xx other than 429).
	ErrorInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorLocal:
		return "local"
	case ErrorNetwork:
		return "network"
	case ErrorAuth:
		return "authorization"
	case ErrorInvalid:
		return "invalid-request"
	}
	return "unknown"
}

// Outcome is the record produced for every descriptor, success or
// failure; failures are recorded, never dropped. Immutable once written.
type Outcome struct {
	Path        string
	Album       string
	AssetID     string
	Disposition Disposition
	Kind        ErrorKind
	Err         error
}

// httpStatusCarrier is implemented by transport errors that know their
// HTTP status (e.g. the immich client's StatusError). Matching the
// method instead of the concrete type keeps the engine decoupled from
// any one client implementation.
type httpStatusCarrier interface {
	HTTPStatus() int
}

// classifyError maps an error from a Service call onto the taxonomy.
func classifyError(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	var sc httpStatusCarrier
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ErrorAuth
		case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
			return ErrorInvalid
		default:
			return ErrorNetwork
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorNetwork
	}
	return ErrorNetwork
}
