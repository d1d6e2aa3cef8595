// Package api exposes the snapshot and restore operations over HTTP.
//
// All request and response bodies are JSON. Errors come back as
//
//	{"error": {"kind": "...", "message": "..."}}
//
// where kind is one of the restore refusal kinds or a cloud error kind.
// The restore surface sits behind the RESTORE_ENABLED flag; while disabled,
// every restore endpoint answers 403 "feature disabled". Authorization is
// resolved upstream; the authenticated actor arrives in the X-Actor header
// and is recorded on jobs and triggers.
package api
