package datablock

// computeSlotChecksum returns the truncated BLAKE2b-256 checksum stored in
// a slot's coordination record for payload[:n], per spec §4.7's "BLAKE2b-256
// truncated ... as declared by the layout".
func computeSlotChecksum(payload []byte, n uint32) uint64 {
	digest := checksum256(payload[:n])
	return truncate64(digest)
}

// verifySlotChecksum recomputes the checksum over payload[:n] and compares
// it against stored: the check Consumer.TryNext performs on a slot before
// returning it when checksum_policy is Enforced, or Manual with a nonzero
// stored checksum. Release does not re-verify.
func verifySlotChecksum(payload []byte, n uint32, stored uint64) bool {
	return computeSlotChecksum(payload, n) == stored
}
