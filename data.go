package astimpeg

// PIDs
const (
	PIDPAT  uint16 = 0x0    // Program Association Table (PAT) contains a directory listing of all Program Map Tables.
	PIDCAT  uint16 = 0x1    // Conditional Access Table (CAT) contains a directory listing of all ITU-T Rec. H.222 entitlement management message streams used by Program Map Tables.
	PIDTSDT uint16 = 0x2    // Transport Stream Description Table (TSDT) contains descriptors related to the overall transport stream
	PIDSDT  uint16 = 0x11   // Service Description Table (SDT) describes the services of the transport stream
	PIDNull uint16 = 0x1fff // Null Packet (used for fixed bandwidth padding)
)

// Access unit flags
const (
	FlagKeyframe = 1 << 0 // The access unit can be decoded on its own
	FlagAUD      = 1 << 1 // The access unit starts with an access unit delimiter
	FlagCorrupt  = 1 << 2 // Input was lost while the access unit was being assembled
)

// AccessUnit represents a demuxed access unit.
// Data points into the demuxer's buffers and is only valid until the handler returns.
type AccessUnit struct {
	Data       []byte
	DTS        int64 // PTSNoValue when unknown
	Flags      int
	PID        uint16 // PID for transport streams, stream id for program streams
	PTS        int64  // PTSNoValue when unknown
	Program    uint16 // Program number, 0 for program streams
	StreamType StreamType
}

// IsKeyframe checks whether the access unit is a random access point
func (au *AccessUnit) IsKeyframe() bool {
	return au.Flags&FlagKeyframe > 0
}

// AccessUnitHandler receives access units in stream order. Returning an error aborts the current input.
type AccessUnitHandler func(au *AccessUnit) error
