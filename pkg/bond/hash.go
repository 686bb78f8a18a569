package bond

import "hash/crc32"

// HashBytes folds mac down to the bond hash-table slot it selects.
// There is no domain library for this in the reference stack; crc32 is
// the standard library's smallest general-purpose byte hash and is
// more than adequate for spreading 6-byte MACs over 256 buckets.
func HashBytes(mac []byte) uint8 {
	return uint8(crc32.ChecksumIEEE(mac))
}
