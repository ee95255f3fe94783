// Package notifications delivers operator events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The Service methods cover the daemon milestones operators care
// about so workflow code can emit consistent messages without duplicating
// HTTP glue. Submitter-facing webhooks are a separate concern and live in the
// publish package.
package notifications
