// Package docstore defines the document-store contract every service is
// written against: schemaless documents in named collections, point lookups,
// equality and small "in" queries, atomic counter/array mutations, and
// bounded batched writes.
//
// Backends live in sub-packages (memory/, dynamo/, postgres/). Services never
// import a backend directly; cmd/ wires one in from configuration.
package docstore
