// Package arrayfile implements the single-file binary container backing
// array entries. A container stores one homogeneous array: element type,
// fixed trailing shape and a resizable leading dimension of rows laid out
// row-major after a small header.
//
// Containers support one appending writer and any number of concurrent
// readers. A writer appends rows past the committed tail, flushes them, and
// only then publishes the new row count in the header; readers never read
// past the published count, so they never observe partial rows. Writers are
// not serialized here.
package arrayfile
