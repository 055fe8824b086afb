// Package http exposes the scheduler over JSON/HTTP.
//
// Identity comes from the auth gateway in the X-User-ID and X-User-Role
// headers. The router exposes:
//   - GET /calendar?date=YYYY-MM-DD&objectId=...: the grouped calendar of
//     virtual and materialized tasks (calendarResponse in dto.go). Aggregates
//     byManager and byObject are only present for ADMIN and DEPUTY_ADMIN.
//   - GET /tasks/{id}: one occurrence, virtual or materialized.
//   - POST /tasks/{id}/materialize with {"action":"start"|"complete"|"comment"}.
//   - POST /tasks/{id}/start, POST /tasks/{id}/complete with
//     {"comment","photos","closeWithPhoto"}.
//   - GET and POST /tasks/{id}/comments; POST takes {"text"} and answers 201
//     with {"task","comment"}.
//   - POST /checklists/auto-generate: runs the checklist generator for an
//     ADMIN or for a caller presenting a valid X-Cron-Token.
//   - GET /checklists/auto-generate: today's generator status.
//   - GET /healthz: liveness, including the store ping.
//
// Errors share one envelope {"errorCode","message","errors"}; see responder.go
// for the mapping from service errors.
package http
