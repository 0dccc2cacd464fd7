package codec

// mp4Sample is one frame's NAL units in 4-byte-length-prefixed (AVCC) form,
// destined for a trun entry plus mdat bytes.
type mp4Sample struct {
	Data          []byte
	DurationTicks uint32
	Keyframe      bool
}

const (
	trunFlagDataOffsetPresent     = 0x000001
	trunFlagSampleDurationPresent = 0x000100
	trunFlagSampleSizePresent     = 0x000200
	trunFlagSampleFlagsPresent    = 0x000400

	tfhdFlagDefaultBaseIsMoof = 0x020000

	sampleFlagNonSync = 0x00010000
)

// buildMediaSegment returns a standalone moof+mdat pair: one fragment
// carrying every sample passed in. The segmenter passes one segment's
// samples, which start at a keyframe and may span several GOPs.
func buildMediaSegment(sequenceNumber uint32, baseDecodeTime uint64, samples []mp4Sample) []byte {
	mfhd := box("mfhd", concatBoxes(u32(0), u32(sequenceNumber)))

	tfhd := box("tfhd", concatBoxes(u32(tfhdFlagDefaultBaseIsMoof), u32(trackID)))
	tfdt := box("tfdt", concatBoxes(u32(1), u64(baseDecodeTime)))

	trunFlags := uint32(trunFlagDataOffsetPresent | trunFlagSampleDurationPresent |
		trunFlagSampleSizePresent | trunFlagSampleFlagsPresent)

	trunHeader := concatBoxes(
		u32(trunFlags),
		u32(uint32(len(samples))),
		u32(0), // data_offset placeholder, patched below
	)
	var trunEntries []byte
	for _, s := range samples {
		flags := uint32(0)
		if !s.Keyframe {
			flags = sampleFlagNonSync
		}
		trunEntries = append(trunEntries,
			concatBoxes(u32(s.DurationTicks), u32(uint32(len(s.Data))), u32(flags))...)
	}
	trun := box("trun", concatBoxes(trunHeader, trunEntries))

	traf := box("traf", concatBoxes(tfhd, tfdt, trun))
	moof := box("moof", concatBoxes(mfhd, traf))

	// data_offset is measured from the start of moof to the first byte of
	// sample data inside mdat (moof length + mdat's 8-byte header).
	dataOffset := uint32(len(moof) + 8)
	patchTrunDataOffset(moof, dataOffset)

	var mdatPayload []byte
	for _, s := range samples {
		mdatPayload = append(mdatPayload, s.Data...)
	}
	mdat := box("mdat", mdatPayload)

	return concatBoxes(moof, mdat)
}

// patchTrunDataOffset overwrites the data_offset field written as a
// placeholder in buildMediaSegment, now that moof's final length is known.
// moof is searched for its "trun" box; this segmenter only ever emits one
// traf/trun per moof, so the first match is authoritative.
func patchTrunDataOffset(moof []byte, dataOffset uint32) {
	idx := findBoxType(moof, "trun")
	if idx < 0 {
		return
	}
	// trun payload: version+flags(4) sample_count(4) data_offset(4) ...
	offsetFieldStart := idx + 8 + 4 + 4
	if offsetFieldStart+4 > len(moof) {
		return
	}
	copy(moof[offsetFieldStart:offsetFieldStart+4], u32(dataOffset))
}

// findBoxType returns the byte offset of a box of the given 4-char type
// anywhere inside buf (searching container payloads too, since moof's
// children are nested), or -1 if not found.
func findBoxType(buf []byte, boxType string) int {
	for i := 0; i+8 <= len(buf); i++ {
		if string(buf[i+4:i+8]) == boxType {
			return i
		}
	}
	return -1
}
