package telemetry

import "github.com/cespare/xxhash"

// PeerLabel turns a peer identifier (hostname, IP, whatever the config
// names it) into a stable fixed-width hex label for metric keys, so a
// Prometheus series' label width doesn't depend on hostname length.
// The hash is case-sensitive: two differently-cased spellings of a peer
// get different labels. ptp4u/server uses the same library
// (xxhash.Sum64String) to key its per-client worker map by address;
// here it keys a label instead of a map.
func PeerLabel(peerID string) string {
	return formatHex(xxhash.Sum64String(peerID))
}

func formatHex(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
