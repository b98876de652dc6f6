// Package partition splits a store's reads into disjoint partitions.
//
// A build copies every read's payload records into one blob file per
// partition and writes a local locator index per partition, all inside
// "partitions.tmp". The global map (read to partition, read to local index,
// reads per partition) is written last and the directory is then renamed to
// "partitions". Openers only trust a "partitions/map" that decodes cleanly, so
// an interrupted build leaves the store unpartitioned.
//
// Partition identifiers start at 1. A partition-restricted View maps its blob
// file read-only and answers loads from memory.
package partition
