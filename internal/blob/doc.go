// Package blob implements the append-only payload files.
//
// A blob file starts with a 16-byte header (magic "SQBLOBS1", version,
// reserved) followed by records:
//
//	Tag        (4 bytes) - "BLOB"
//	Codec      (1 byte)
//	Reserved   (3 bytes)
//	Length     (4 bytes) - stored payload length
//	Checksum   (4 bytes) - CRC32-IEEE of the stored payload
//	Payload    (Length bytes)
//
// Before the codec is applied a payload is laid out as name length, name,
// sequence length, quality flag, sequence and (when the flag is set) quality.
//
// Records are addressed by catalog.Locator. A Writer appends and rolls to a
// new file past its size limit; Readers are cheap, independent handles handed
// out by a Pool.
package blob
