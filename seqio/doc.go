// Package seqio reads FASTA and FASTQ sequence files for import into a
// read store.
//
// FASTQ input uses four-line records: an '@' header, the sequence, a '+'
// separator and one quality character per base. FASTA records start with a
// '>' header and may wrap the sequence over any number of lines; they carry
// no quality values. Files may be gzip or zstd compressed.
package seqio
