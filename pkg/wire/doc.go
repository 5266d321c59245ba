// Package wire maps the JSON shapes spoken by workflow backends onto domain
// events.
//
// Two inbound shapes are supported: stream records (one JSON object per line
// of a streamed response, discriminated by "step") and socket messages
// ({"type", "data"} envelopes on a persistent connection). Decoding never
// panics and never fails the caller: anything unrecognised becomes an
// ErrorEvent carrying a *domain.DecodeError.
package wire
