// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by every span lavasync opens.
const (
	HTTPMethodKey     = "http.request.method"
	HTTPStatusCodeKey = "http.response.status_code"
	URLPathKey        = "url.path"

	NodeIDKey  = "lavasync.node"
	GuildIDKey = "lavasync.guild"
	TrackKey   = "lavasync.track"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// RESTAttributes describes one node REST call.
func RESTAttributes(nodeID, method, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(NodeIDKey, nodeID),
		attribute.String(HTTPMethodKey, method),
		attribute.String(URLPathKey, path),
	}
}

// PlayerAttributes tags a span with the guild and, when known, the track.
func PlayerAttributes(guildID, track string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if guildID != "" {
		attrs = append(attrs, attribute.String(GuildIDKey, guildID))
	}
	if track != "" {
		attrs = append(attrs, attribute.String(TrackKey, track))
	}
	return attrs
}

// ErrorAttributes marks a span as failed with a classification.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
