package guide

import (
	"context"
	"encoding/json"
)

// Submitter delivers one mutation payload to a server endpoint path.
// A nil error means the server acknowledged with a 2xx; the response body
// is ignored at this layer. Any non-2xx status or network failure is an
// error, and the caller leaves the mutation pending.
type Submitter interface {
	Submit(ctx context.Context, path string, payload json.RawMessage, idempotencyKey string) error
}

// Routes is the static mutation type → server endpoint path table.
// An absent type means no request is ever sent for that mutation.
func Routes() map[string]string {
	return map[string]string{
		TypeAttendanceCheckIn:  "/guide/attendance/check-in",
		TypeAttendanceCheckOut: "/guide/attendance/check-out",
		TypeManifestBoard:      "/guide/manifest/board",
		TypeManifestReturn:     "/guide/manifest/return",
		TypeDocumentUpload:     "/guide/documents",
	}
}
