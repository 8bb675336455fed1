// Package protocol owns the host->UI message contract.
//
// Ownership boundary:
// - outbound envelope shape
// - operation tags and their payloads
// - envelope validation and encoding
//
// No UI->host envelope is defined; surfaces drop inbound frames.
package protocol
