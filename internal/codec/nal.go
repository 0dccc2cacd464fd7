package codec

// annexBToLengthPrefixed reverses ingest's Annex-B conversion: fMP4 sample
// data (the mdat payload) uses 4-byte-length-prefixed NAL units, the same
// AVCC wire format the source FLV tags carried before ingest normalized
// them to Annex-B for the hub/WebSocket path.
func annexBToLengthPrefixed(annexB []byte) []byte {
	out := make([]byte, 0, len(annexB))
	for _, nal := range splitAnnexB(annexB) {
		out = append(out, u32(uint32(len(nal)))...)
		out = append(out, nal...)
	}
	return out
}

// splitAnnexB returns the NAL units in data, each with its start code
// removed.
func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nals = append(nals, data[start:i])
			}
			i += 3
			start = i
			continue
		}
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if start >= 0 {
				nals = append(nals, data[start:i])
			}
			i += 4
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nals = append(nals, data[start:])
	}
	return nals
}
