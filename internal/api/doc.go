// Package api provides the HTTP handlers for the service: the webhook
// notification endpoint that feeds the ingestion pipeline, the operator
// override for event dedup records, and queue observability.
package api
