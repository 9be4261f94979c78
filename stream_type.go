package astimpeg

import "fmt"

// StreamType is the ISO/IEC 13818-1 stream_type announced in PMTs and PSMs. It doubles as the codec id of a stream.
type StreamType uint8

// Stream types
const (
	StreamTypeMPEG1Video     StreamType = 0x01
	StreamTypeMPEG2Video     StreamType = 0x02
	StreamTypeMPEG1Audio     StreamType = 0x03 // MP3 too
	StreamTypeMPEG2Audio     StreamType = 0x04
	StreamTypePrivateSection StreamType = 0x05
	StreamTypePrivateData    StreamType = 0x06
	StreamTypeAACAudio       StreamType = 0x0f // ADTS
	StreamTypeMPEG4Video     StreamType = 0x10
	StreamTypeAACLATMAudio   StreamType = 0x11
	StreamTypeMetadata       StreamType = 0x15
	StreamTypeH264Video      StreamType = 0x1b
	StreamTypeH265Video      StreamType = 0x24
	StreamTypeH266Video      StreamType = 0x33
	StreamTypeCAVSVideo      StreamType = 0x42
	StreamTypeSVACVideo      StreamType = 0x80
	StreamTypeAC3Audio       StreamType = 0x81
	StreamTypeEAC3Audio      StreamType = 0x87
	StreamTypeDTSAudio       StreamType = 0x8a
	StreamTypeG711AAudio     StreamType = 0x90
	StreamTypeG711UAudio     StreamType = 0x91
	StreamTypeG722Audio      StreamType = 0x92
	StreamTypeG7231Audio     StreamType = 0x93
	StreamTypeG729Audio      StreamType = 0x99
	StreamTypeSVACAudio      StreamType = 0x9b
	StreamTypeOpusAudio      StreamType = 0x9c
)

// IsVideo checks whether the stream type is a video one
func (t StreamType) IsVideo() bool {
	switch t {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeMPEG4Video, StreamTypeH264Video,
		StreamTypeH265Video, StreamTypeH266Video, StreamTypeCAVSVideo, StreamTypeSVACVideo:
		return true
	}
	return false
}

// IsAudio checks whether the stream type is an audio one
func (t StreamType) IsAudio() bool {
	switch t {
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAACAudio, StreamTypeAACLATMAudio,
		StreamTypeAC3Audio, StreamTypeEAC3Audio, StreamTypeDTSAudio, StreamTypeG711AAudio, StreamTypeG711UAudio,
		StreamTypeG722Audio, StreamTypeG7231Audio, StreamTypeG729Audio, StreamTypeSVACAudio, StreamTypeOpusAudio:
		return true
	}
	return false
}

// hasAccessUnitDelimiter checks whether access units of the stream type are delimited by AUD NAL units
func (t StreamType) hasAccessUnitDelimiter() bool {
	return t == StreamTypeH264Video || t == StreamTypeH265Video || t == StreamTypeH266Video
}

// PESStreamID returns the base PES stream_id used to carry the stream type
func (t StreamType) PESStreamID() uint8 {
	switch {
	case t.IsVideo():
		return StreamIDVideo
	case t.IsAudio():
		return StreamIDAudio
	case t == StreamTypeMetadata:
		return StreamIDMetadata
	}
	return StreamIDPrivateStream1
}

func (t StreamType) String() string {
	switch t {
	case StreamTypeMPEG1Video:
		return "MPEG-1 Video"
	case StreamTypeMPEG2Video:
		return "MPEG-2 Video"
	case StreamTypeMPEG1Audio:
		return "MPEG-1 Audio"
	case StreamTypeMPEG2Audio:
		return "MPEG-2 Audio"
	case StreamTypePrivateSection:
		return "Private Section"
	case StreamTypePrivateData:
		return "Private Data"
	case StreamTypeAACAudio:
		return "AAC"
	case StreamTypeMPEG4Video:
		return "MPEG-4 Video"
	case StreamTypeAACLATMAudio:
		return "AAC LATM"
	case StreamTypeMetadata:
		return "Metadata"
	case StreamTypeH264Video:
		return "H.264"
	case StreamTypeH265Video:
		return "H.265"
	case StreamTypeH266Video:
		return "H.266"
	case StreamTypeCAVSVideo:
		return "CAVS"
	case StreamTypeSVACVideo:
		return "SVAC Video"
	case StreamTypeAC3Audio:
		return "AC-3"
	case StreamTypeEAC3Audio:
		return "E-AC-3"
	case StreamTypeDTSAudio:
		return "DTS"
	case StreamTypeG711AAudio:
		return "G.711 A-law"
	case StreamTypeG711UAudio:
		return "G.711 µ-law"
	case StreamTypeG722Audio:
		return "G.722"
	case StreamTypeG7231Audio:
		return "G.723.1"
	case StreamTypeG729Audio:
		return "G.729"
	case StreamTypeSVACAudio:
		return "SVAC Audio"
	case StreamTypeOpusAudio:
		return "Opus"
	}
	return fmt.Sprintf("Unknown (%#x)", uint8(t))
}
