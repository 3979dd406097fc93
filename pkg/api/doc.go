// Package api exposes the contract workflow engine over HTTP.
//
// Every engine command is a POST under /v1. The acting user is read from the
// X-Actor-ID header and the expected contract version from If-Match or the
// "version" body field. Successful commands return the contract with all of
// its tracks and an ETag holding the new version. Failures return
//
//	{"request_id": "...", "error": {"class": "...", "code": "...", "message": "..."}}
//
// with the HTTP status of the error class: invalid_state 422, forbidden 403,
// validation 400, not_found 404, conflict 409, internal 500.
package api
