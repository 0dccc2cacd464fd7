package codec

// Timescale used throughout the generated fragmented MP4: a 90kHz clock,
// the PTS unit H.264/transport streams in this family use. ingest.Frame's
// PTSMs is in milliseconds, so the segmenter rescales it (multiplied by 90)
// into 90kHz ticks.
const mp4Timescale = 90000

const trackID = 1

// buildInitSegment returns the ftyp+moov pair LL-HLS/fMP4 players fetch
// once before any media segment, describing a single H.264 video track.
// avcConfigRecord is the raw AVCDecoderConfigurationRecord ingest already
// extracted from the source FLV's VideoSequenceHeader tag — avcC stores
// that record verbatim, so there is nothing to re-derive here.
func buildInitSegment(width, height int, avcConfigRecord []byte) []byte {
	ftyp := box("ftyp", concatBoxes(
		[]byte("iso5"), u32(512), []byte("iso5"), []byte("iso6"), []byte("mp41"),
	))

	mvhd := box("mvhd", concatBoxes(
		u32(0),      // version+flags
		u32(0),      // creation time
		u32(0),      // modification time
		u32(mp4Timescale),
		u32(0),      // duration (unknown, fragmented)
		u32(0x00010000), // rate 1.0
		u16(0x0100),     // volume 1.0
		make([]byte, 10), // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		u32(2),           // next_track_ID
	))

	trex := box("trex", concatBoxes(
		u32(0),
		u32(trackID),
		u32(1), // default_sample_description_index
		u32(0), // default_sample_duration
		u32(0), // default_sample_size
		u32(0), // default_sample_flags
	))
	mvex := box("mvex", trex)

	tkhd := box("tkhd", concatBoxes(
		u32(0x00000007), // version 0, flags: enabled|in_movie|in_preview
		u32(0), u32(0),
		u32(trackID),
		u32(0), // reserved
		u32(0), // duration
		make([]byte, 8),  // reserved
		u16(0), u16(0),   // layer, alternate_group
		u16(0), u16(0),   // volume, reserved
		identityMatrix(),
		u32(uint32(width)<<16),
		u32(uint32(height)<<16),
	))

	mdhd := box("mdhd", concatBoxes(
		u32(0),
		u32(0), u32(0),
		u32(mp4Timescale),
		u32(0),
		u16(0x55c4), // und language
		u16(0),
	))

	hdlr := box("hdlr", concatBoxes(
		u32(0),
		u32(0),
		[]byte("vide"),
		make([]byte, 12),
		[]byte("acproxycam video handler\x00"),
	))

	vmhd := box("vmhd", concatBoxes(u32(1), u16(0), u16(0), u16(0), u16(0)))

	url := box("url ", u32(1))
	dref := box("dref", concatBoxes(u32(0), u32(1), url))
	dinf := box("dinf", dref)

	avcC := box("avcC", avcConfigRecord)
	avc1 := box("avc1", concatBoxes(
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u16(0), u16(0), u32(0), make([]byte, 12),
		u16(uint16(width)), u16(uint16(height)),
		u32(0x00480000), u32(0x00480000), // horiz/vert resolution 72dpi
		u32(0),  // reserved
		u16(1),  // frame_count
		make([]byte, 32), // compressorname
		u16(0x0018),      // depth
		u16(0xffff),      // pre_defined
		avcC,
	))
	stsd := box("stsd", concatBoxes(u32(0), u32(1), avc1))

	stts := box("stts", concatBoxes(u32(0), u32(0)))
	stsc := box("stsc", concatBoxes(u32(0), u32(0)))
	stsz := box("stsz", concatBoxes(u32(0), u32(0), u32(0)))
	stco := box("stco", concatBoxes(u32(0), u32(0)))
	stbl := box("stbl", concatBoxes(stsd, stts, stsc, stsz, stco))

	minf := box("minf", concatBoxes(vmhd, dinf, stbl))
	mdia := box("mdia", concatBoxes(mdhd, hdlr, minf))
	trak := box("trak", concatBoxes(tkhd, mdia))

	moov := box("moov", concatBoxes(mvhd, mvex, trak))

	return concatBoxes(ftyp, moov)
}

func identityMatrix() []byte {
	return concatBoxes(
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	)
}
