// Package node provides the gateway's node directory.
//
// A node is a physical WuKong device the gateway has learned about, either
// from a NODE_ANNOUNCE datagram or from an mDNS browse. The directory assigns
// each node a one-byte identifier, remembers its transport address, its
// logical location (a slash-separated path such as "/WuKong/Room1"), when it
// was last heard from, and a cache of the classes and objects it hosts.
//
// The package provides a Repository interface with a SQLite implementation.
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use from multiple goroutines
// (SQLite WAL mode + connection pooling).
package node
