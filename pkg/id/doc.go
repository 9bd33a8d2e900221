// Package id provides the 128-bit, lexicographically sortable identifiers
// used to name sessions.
//
// # Format
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence],
// rendered as 32 lowercase hex characters. Byte-wise comparison preserves
// creation order, so a directory listing of session IDs is chronological.
//
// Usage
//
//	g := id.NewGenerator()
//	sid := g.Next()
//	dir := filepath.Join(root, sid.String())
//	back, _ := id.Parse(sid.String())
package id
