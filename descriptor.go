package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// Audio types
const (
	AudioTypeCleanEffects             = 0x1
	AudioTypeHearingImpaired          = 0x2
	AudioTypeVisualImpairedCommentary = 0x3
)

// Data stream alignments
// Chapter: 2.6.11 | ISO/IEC 13818-1
const (
	DataStreamAligmentAudioSyncWord          = 0x1
	DataStreamAligmentVideoSliceOrAccessUnit = 0x1
	DataStreamAligmentVideoAccessUnit        = 0x2
	DataStreamAligmentVideoGOPOrSEQ          = 0x3
	DataStreamAligmentVideoSEQ               = 0x4
)

// Service types
const (
	ServiceTypeDigitalTelevisionService = 0x1
)

type DescriptorTag uint8

// Descriptor tags
// Chapter: 2.6 | ISO/IEC 13818-1
const (
	DescriptorTagVideoStream                DescriptorTag = 0x02
	DescriptorTagAudioStream                DescriptorTag = 0x03
	DescriptorTagHierarchy                  DescriptorTag = 0x04
	DescriptorTagRegistration               DescriptorTag = 0x05
	DescriptorTagDataStreamAlignment        DescriptorTag = 0x06
	DescriptorTagTargetBackgroundGrid       DescriptorTag = 0x07
	DescriptorTagVideoWindow                DescriptorTag = 0x08
	DescriptorTagCA                         DescriptorTag = 0x09
	DescriptorTagISO639LanguageAndAudioType DescriptorTag = 0x0a
	DescriptorTagSystemClock                DescriptorTag = 0x0b
	DescriptorTagMultiplexBufferUtilization DescriptorTag = 0x0c
	DescriptorTagCopyright                  DescriptorTag = 0x0d
	DescriptorTagMaximumBitrate             DescriptorTag = 0x0e
	DescriptorTagPrivateDataIndicator       DescriptorTag = 0x0f
	DescriptorTagSmoothingBuffer            DescriptorTag = 0x10
	DescriptorTagSTD                        DescriptorTag = 0x11
	DescriptorTagMPEG4Video                 DescriptorTag = 0x1b
	DescriptorTagMPEG4Audio                 DescriptorTag = 0x1c
	DescriptorTagAVCVideo                   DescriptorTag = 0x28
	DescriptorTagMPEG2AACAudio              DescriptorTag = 0x2b
	DescriptorTagHEVCVideo                  DescriptorTag = 0x38
	DescriptorTagService                    DescriptorTag = 0x48 // ETSI EN 300 468
	DescriptorTagStreamIdentifier           DescriptorTag = 0x52 // ETSI EN 300 468
)

type DescriptorParser func(i *astikit.BytesIterator, h DescriptorHeader) (d Descriptor, err error)

var descriptorParserLUT = [256]DescriptorParser{
	DescriptorTagVideoStream:                newDescriptorVideoStream,
	DescriptorTagAudioStream:                newDescriptorAudioStream,
	DescriptorTagHierarchy:                  newDescriptorHierarchy,
	DescriptorTagRegistration:               newDescriptorRegistration,
	DescriptorTagDataStreamAlignment:        newDescriptorDataStreamAlignment,
	DescriptorTagTargetBackgroundGrid:       newDescriptorTargetBackgroundGrid,
	DescriptorTagVideoWindow:                newDescriptorVideoWindow,
	DescriptorTagCA:                         newDescriptorCA,
	DescriptorTagISO639LanguageAndAudioType: newDescriptorISO639LanguageAndAudioType,
	DescriptorTagSystemClock:                newDescriptorSystemClock,
	DescriptorTagMultiplexBufferUtilization: newDescriptorMultiplexBufferUtilization,
	DescriptorTagCopyright:                  newDescriptorCopyright,
	DescriptorTagMaximumBitrate:             newDescriptorMaximumBitrate,
	DescriptorTagPrivateDataIndicator:       newDescriptorPrivateDataIndicator,
	DescriptorTagSmoothingBuffer:            newDescriptorSmoothingBuffer,
	DescriptorTagSTD:                        newDescriptorSTD,
	DescriptorTagMPEG4Video:                 newDescriptorMPEG4Video,
	DescriptorTagMPEG4Audio:                 newDescriptorMPEG4Audio,
	DescriptorTagAVCVideo:                   newDescriptorAVCVideo,
	DescriptorTagMPEG2AACAudio:              newDescriptorMPEG2AACAudio,
	DescriptorTagHEVCVideo:                  newDescriptorHEVCVideo,
	DescriptorTagService:                    newDescriptorService,
	DescriptorTagStreamIdentifier:           newDescriptorStreamIdentifier,
}

func init() {
	for i := range descriptorParserLUT {
		if i&0x80 > 0 && i != 0xff {
			descriptorParserLUT[i] = newDescriptorUserDefined
			continue
		}
		if descriptorParserLUT[i] == nil {
			descriptorParserLUT[i] = newDescriptorUnknown
		}
	}
}

// Descriptor represents a descriptor. Use a type switch to reach its content.
type Descriptor interface {
	DescriptorTag() DescriptorTag
}

// DescriptorHeader is embedded in every descriptor
type DescriptorHeader struct {
	Tag    DescriptorTag // the tag defines the structure of the contained data following the descriptor length.
	Length uint8
}

func (h DescriptorHeader) DescriptorTag() DescriptorTag {
	return h.Tag
}

// ParseDescriptors parses a descriptor loop such as PMT program info, PMT ES info or PSM ES info
func ParseDescriptors(bs []byte) ([]Descriptor, error) {
	return parseDescriptors(astikit.NewBytesIterator(bs), len(bs))
}

// parseDescriptors parses length bytes worth of descriptors. Descriptors parsed before an error are returned.
func parseDescriptors(i *astikit.BytesIterator, length int) (o []Descriptor, err error) {
	offsetEnd := i.Offset() + length
	for i.Offset() < offsetEnd {
		var bs []byte
		if bs, err = nextBytes(i, 2); err != nil {
			return
		}
		h := DescriptorHeader{
			Tag:    DescriptorTag(bs[0]),
			Length: bs[1],
		}
		if i.Offset()+int(h.Length) > offsetEnd {
			err = fmt.Errorf("astimpeg: descriptor %#x overflows its loop: %w", h.Tag, ErrInvalidData)
			return
		}

		// Every parser gets its own iterator so that a corrupted descriptor can't read its neighbours
		if bs, err = nextBytes(i, int(h.Length)); err != nil {
			return
		}
		var d Descriptor
		if d, err = descriptorParserLUT[h.Tag](astikit.NewBytesIterator(bs), h); err != nil {
			err = fmt.Errorf("astimpeg: parsing descriptor %#x failed: %w", h.Tag, err)
			return
		}
		o = append(o, d)
	}
	return
}

// nextBytes fetches n bytes without copying them
func nextBytes(i *astikit.BytesIterator, n int) (bs []byte, err error) {
	if bs, err = i.NextBytesNoCopy(n); err != nil || len(bs) < n {
		err = fmt.Errorf("astimpeg: fetching %d bytes failed: %w", n, ErrNeedMoreData)
	}
	return
}

// remaining returns the bytes left in the iterator
func remaining(i *astikit.BytesIterator) []byte {
	bs, _ := i.NextBytes(i.Len() - i.Offset())
	return bs
}

// DescriptorVideoStream represents a video stream descriptor
// Chapter: 2.6.2 | ISO/IEC 13818-1
type DescriptorVideoStream struct {
	DescriptorHeader
	ChromaFormat              uint8
	ConstrainedParameterFlag  bool
	FrameRateCode             uint8
	FrameRateExtensionFlag    bool
	MPEG1OnlyFlag             bool
	MultipleFrameRateFlag     bool
	ProfileAndLevelIndication uint8
	StillPictureFlag          bool
}

func newDescriptorVideoStream(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	d := &DescriptorVideoStream{DescriptorHeader: h}
	dd = d

	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	d.MultipleFrameRateFlag = b&0x80 > 0
	d.FrameRateCode = b >> 3 & 0xf
	d.MPEG1OnlyFlag = b&0x4 > 0
	d.ConstrainedParameterFlag = b&0x2 > 0
	d.StillPictureFlag = b&0x1 > 0

	if !d.MPEG1OnlyFlag {
		var bs []byte
		if bs, err = nextBytes(i, 2); err != nil {
			return
		}
		d.ProfileAndLevelIndication = bs[0]
		d.ChromaFormat = bs[1] >> 6
		d.FrameRateExtensionFlag = bs[1]&0x20 > 0
	}
	return
}

// DescriptorAudioStream represents an audio stream descriptor
// Chapter: 2.6.4 | ISO/IEC 13818-1
type DescriptorAudioStream struct {
	DescriptorHeader
	FreeFormatFlag             bool
	ID                         uint8
	Layer                      uint8
	VariableRateAudioIndicator bool
}

func newDescriptorAudioStream(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	dd = &DescriptorAudioStream{
		DescriptorHeader:           h,
		FreeFormatFlag:             b&0x80 > 0,
		ID:                         b >> 6 & 0x1,
		Layer:                      b >> 4 & 0x3,
		VariableRateAudioIndicator: b&0x8 > 0,
	}
	return
}

// DescriptorHierarchy represents a hierarchy descriptor
// Chapter: 2.6.6 | ISO/IEC 13818-1
type DescriptorHierarchy struct {
	DescriptorHeader
	HierarchyChannel            uint8
	HierarchyEmbeddedLayerIndex uint8
	HierarchyLayerIndex         uint8
	HierarchyType               uint8
	QualityScalabilityFlag      bool
	SpatialScalabilityFlag      bool
	TemporalScalabilityFlag     bool
	TREFPresentFlag             bool
}

func newDescriptorHierarchy(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorHierarchy{
		DescriptorHeader:            h,
		TemporalScalabilityFlag:     bs[0]&0x40 > 0,
		SpatialScalabilityFlag:      bs[0]&0x20 > 0,
		QualityScalabilityFlag:      bs[0]&0x10 > 0,
		HierarchyType:               bs[0] & 0xf,
		HierarchyLayerIndex:         bs[1] & 0x3f,
		TREFPresentFlag:             bs[2]&0x80 > 0,
		HierarchyEmbeddedLayerIndex: bs[2] & 0x3f,
		HierarchyChannel:            bs[3] & 0x3f,
	}
	return
}

// DescriptorRegistration represents a registration descriptor
// Chapter: 2.6.8 | ISO/IEC 13818-1
type DescriptorRegistration struct {
	DescriptorHeader
	AdditionalIdentificationInfo []byte
	FormatIdentifier             uint32
}

func newDescriptorRegistration(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorRegistration{
		DescriptorHeader:             h,
		FormatIdentifier:             binary.BigEndian.Uint32(bs),
		AdditionalIdentificationInfo: remaining(i),
	}
	return
}

// DescriptorDataStreamAlignment represents a data stream alignment descriptor
// Chapter: 2.6.10 | ISO/IEC 13818-1
type DescriptorDataStreamAlignment struct {
	DescriptorHeader
	Type uint8
}

func newDescriptorDataStreamAlignment(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	dd = &DescriptorDataStreamAlignment{DescriptorHeader: h, Type: b}
	return
}

// DescriptorTargetBackgroundGrid represents a target background grid descriptor
// Chapter: 2.6.12 | ISO/IEC 13818-1
type DescriptorTargetBackgroundGrid struct {
	DescriptorHeader
	AspectRatioInformation uint8
	HorizontalSize         uint16
	VerticalSize           uint16
}

func newDescriptorTargetBackgroundGrid(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	v := binary.BigEndian.Uint32(bs)
	dd = &DescriptorTargetBackgroundGrid{
		DescriptorHeader:       h,
		HorizontalSize:         uint16(v >> 18),
		VerticalSize:           uint16(v >> 4 & 0x3fff),
		AspectRatioInformation: uint8(v & 0xf),
	}
	return
}

// DescriptorVideoWindow represents a video window descriptor
// Chapter: 2.6.14 | ISO/IEC 13818-1
type DescriptorVideoWindow struct {
	DescriptorHeader
	HorizontalOffset uint16
	VerticalOffset   uint16
	WindowPriority   uint8
}

func newDescriptorVideoWindow(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	v := binary.BigEndian.Uint32(bs)
	dd = &DescriptorVideoWindow{
		DescriptorHeader: h,
		HorizontalOffset: uint16(v >> 18),
		VerticalOffset:   uint16(v >> 4 & 0x3fff),
		WindowPriority:   uint8(v & 0xf),
	}
	return
}

// DescriptorCA represents a conditional access descriptor
// Chapter: 2.6.16 | ISO/IEC 13818-1
type DescriptorCA struct {
	DescriptorHeader
	CAPID       uint16
	CASystemID  uint16
	PrivateData []byte
}

func newDescriptorCA(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorCA{
		DescriptorHeader: h,
		CASystemID:       binary.BigEndian.Uint16(bs),
		CAPID:            binary.BigEndian.Uint16(bs[2:]) & 0x1fff,
		PrivateData:      remaining(i),
	}
	return
}

// DescriptorISO639LanguageAndAudioType represents an ISO639 language descriptor
// Chapter: 2.6.18 | ISO/IEC 13818-1
type DescriptorISO639LanguageAndAudioType struct {
	DescriptorHeader
	Items []*DescriptorISO639LanguageAndAudioTypeItem
}

// DescriptorISO639LanguageAndAudioTypeItem represents an ISO639 language descriptor item
type DescriptorISO639LanguageAndAudioTypeItem struct {
	Language []byte
	Type     uint8
}

func newDescriptorISO639LanguageAndAudioType(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	d := &DescriptorISO639LanguageAndAudioType{DescriptorHeader: h}
	dd = d
	for i.Len()-i.Offset() >= 4 {
		var bs []byte
		if bs, err = i.NextBytes(4); err != nil {
			err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
			return
		}
		d.Items = append(d.Items, &DescriptorISO639LanguageAndAudioTypeItem{
			Language: bs[:3],
			Type:     bs[3],
		})
	}
	return
}

// DescriptorSystemClock represents a system clock descriptor
// Chapter: 2.6.20 | ISO/IEC 13818-1
type DescriptorSystemClock struct {
	DescriptorHeader
	ClockAccuracyExponent           uint8
	ClockAccuracyInteger            uint8
	ExternalClockReferenceIndicator bool
}

func newDescriptorSystemClock(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 2); err != nil {
		return
	}
	dd = &DescriptorSystemClock{
		DescriptorHeader:                h,
		ExternalClockReferenceIndicator: bs[0]&0x80 > 0,
		ClockAccuracyInteger:            bs[0] & 0x3f,
		ClockAccuracyExponent:           bs[1] >> 5,
	}
	return
}

// DescriptorMultiplexBufferUtilization represents a multiplex buffer utilization descriptor
// Chapter: 2.6.22 | ISO/IEC 13818-1
type DescriptorMultiplexBufferUtilization struct {
	DescriptorHeader
	BoundValidFlag      bool
	LTWOffsetLowerBound uint16
	LTWOffsetUpperBound uint16
}

func newDescriptorMultiplexBufferUtilization(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorMultiplexBufferUtilization{
		DescriptorHeader:    h,
		BoundValidFlag:      bs[0]&0x80 > 0,
		LTWOffsetLowerBound: binary.BigEndian.Uint16(bs) & 0x7fff,
		LTWOffsetUpperBound: binary.BigEndian.Uint16(bs[2:]) & 0x7fff,
	}
	return
}

// DescriptorCopyright represents a copyright descriptor
// Chapter: 2.6.24 | ISO/IEC 13818-1
type DescriptorCopyright struct {
	DescriptorHeader
	AdditionalCopyrightInfo []byte
	CopyrightIdentifier     uint32
}

func newDescriptorCopyright(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorCopyright{
		DescriptorHeader:        h,
		CopyrightIdentifier:     binary.BigEndian.Uint32(bs),
		AdditionalCopyrightInfo: remaining(i),
	}
	return
}

// DescriptorMaximumBitrate represents a maximum bitrate descriptor
// Chapter: 2.6.26 | ISO/IEC 13818-1
type DescriptorMaximumBitrate struct {
	DescriptorHeader
	Bitrate uint32 // In bytes/second
}

func newDescriptorMaximumBitrate(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 3); err != nil {
		return
	}
	dd = &DescriptorMaximumBitrate{
		DescriptorHeader: h,
		Bitrate:          (uint32(bs[0]&0x3f)<<16 | uint32(bs[1])<<8 | uint32(bs[2])) * 50,
	}
	return
}

// DescriptorPrivateDataIndicator represents a private data indicator descriptor
// Chapter: 2.6.28 | ISO/IEC 13818-1
type DescriptorPrivateDataIndicator struct {
	DescriptorHeader
	Indicator uint32
}

func newDescriptorPrivateDataIndicator(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorPrivateDataIndicator{DescriptorHeader: h, Indicator: binary.BigEndian.Uint32(bs)}
	return
}

// DescriptorSmoothingBuffer represents a smoothing buffer descriptor
// Chapter: 2.6.30 | ISO/IEC 13818-1
type DescriptorSmoothingBuffer struct {
	DescriptorHeader
	LeakRate uint32 // In units of 400 bits/second
	Size     uint32 // In bytes
}

func newDescriptorSmoothingBuffer(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 6); err != nil {
		return
	}
	dd = &DescriptorSmoothingBuffer{
		DescriptorHeader: h,
		LeakRate:         uint32(bs[0]&0x3f)<<16 | uint32(bs[1])<<8 | uint32(bs[2]),
		Size:             uint32(bs[3]&0x3f)<<16 | uint32(bs[4])<<8 | uint32(bs[5]),
	}
	return
}

// DescriptorSTD represents an STD descriptor
// Chapter: 2.6.32 | ISO/IEC 13818-1
type DescriptorSTD struct {
	DescriptorHeader
	LeakValidFlag bool
}

func newDescriptorSTD(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	dd = &DescriptorSTD{DescriptorHeader: h, LeakValidFlag: b&0x1 > 0}
	return
}

// DescriptorMPEG4Video represents an MPEG-4 video descriptor
// Chapter: 2.6.36 | ISO/IEC 13818-1
type DescriptorMPEG4Video struct {
	DescriptorHeader
	VisualProfileAndLevel uint8
}

func newDescriptorMPEG4Video(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	dd = &DescriptorMPEG4Video{DescriptorHeader: h, VisualProfileAndLevel: b}
	return
}

// DescriptorMPEG4Audio represents an MPEG-4 audio descriptor
// Chapter: 2.6.38 | ISO/IEC 13818-1
type DescriptorMPEG4Audio struct {
	DescriptorHeader
	AudioProfileAndLevel uint8
}

func newDescriptorMPEG4Audio(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	dd = &DescriptorMPEG4Audio{DescriptorHeader: h, AudioProfileAndLevel: b}
	return
}

// DescriptorAVCVideo represents an AVC video descriptor
// Chapter: 2.6.64 | ISO/IEC 13818-1
type DescriptorAVCVideo struct {
	DescriptorHeader
	AVC24HourPictureFlag bool
	AVCStillPresent      bool
	CompatibleFlags      uint8
	ConstraintSet0Flag   bool
	ConstraintSet1Flag   bool
	ConstraintSet2Flag   bool
	LevelIDC             uint8
	ProfileIDC           uint8
}

func newDescriptorAVCVideo(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	dd = &DescriptorAVCVideo{
		DescriptorHeader:     h,
		ProfileIDC:           bs[0],
		ConstraintSet0Flag:   bs[1]&0x80 > 0,
		ConstraintSet1Flag:   bs[1]&0x40 > 0,
		ConstraintSet2Flag:   bs[1]&0x20 > 0,
		CompatibleFlags:      bs[1] & 0x1f,
		LevelIDC:             bs[2],
		AVCStillPresent:      bs[3]&0x80 > 0,
		AVC24HourPictureFlag: bs[3]&0x40 > 0,
	}
	return
}

// DescriptorMPEG2AACAudio represents an MPEG-2 AAC audio descriptor
// Chapter: 2.6.68 | ISO/IEC 13818-1
type DescriptorMPEG2AACAudio struct {
	DescriptorHeader
	AdditionalInformation uint8
	ChannelConfiguration  uint8
	Profile               uint8
}

func newDescriptorMPEG2AACAudio(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 3); err != nil {
		return
	}
	dd = &DescriptorMPEG2AACAudio{
		DescriptorHeader:      h,
		Profile:               bs[0],
		ChannelConfiguration:  bs[1],
		AdditionalInformation: bs[2],
	}
	return
}

// DescriptorHEVCVideo represents an HEVC video descriptor
// Chapter: 2.6.95 | ISO/IEC 13818-1
type DescriptorHEVCVideo struct {
	DescriptorHeader
	FrameOnlyConstraintFlag        bool
	HDRWCGIDC                      uint8
	HEVC24HourPicturePresentFlag   bool
	HEVCStillPresentFlag           bool
	InterlacedSourceFlag           bool
	LevelIDC                       uint8
	NonPackedConstraintFlag        bool
	ProfileCompatibilityIndication uint32
	ProfileIDC                     uint8
	ProfileSpace                   uint8
	ProgressiveSourceFlag          bool
	SubPicHRDParamsNotPresentFlag  bool
	TemporalIDMax                  uint8
	TemporalIDMin                  uint8
	TemporalLayerSubsetFlag        bool
	TierFlag                       bool
}

func newDescriptorHEVCVideo(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var bs []byte
	if bs, err = nextBytes(i, 13); err != nil {
		return
	}
	d := &DescriptorHEVCVideo{
		DescriptorHeader:               h,
		ProfileSpace:                   bs[0] >> 6,
		TierFlag:                       bs[0]&0x20 > 0,
		ProfileIDC:                     bs[0] & 0x1f,
		ProfileCompatibilityIndication: binary.BigEndian.Uint32(bs[1:]),
		ProgressiveSourceFlag:          bs[5]&0x80 > 0,
		InterlacedSourceFlag:           bs[5]&0x40 > 0,
		NonPackedConstraintFlag:        bs[5]&0x20 > 0,
		FrameOnlyConstraintFlag:        bs[5]&0x10 > 0,
		LevelIDC:                       bs[11],
		TemporalLayerSubsetFlag:        bs[12]&0x80 > 0,
		HEVCStillPresentFlag:           bs[12]&0x40 > 0,
		HEVC24HourPicturePresentFlag:   bs[12]&0x20 > 0,
		SubPicHRDParamsNotPresentFlag:  bs[12]&0x10 > 0,
		HDRWCGIDC:                      bs[12] & 0x3,
	}
	dd = d

	if d.TemporalLayerSubsetFlag {
		if bs, err = nextBytes(i, 2); err != nil {
			return
		}
		d.TemporalIDMin = bs[0] & 0x7
		d.TemporalIDMax = bs[1] & 0x7
	}
	return
}

// DescriptorService represents a service descriptor
// Chapter: 6.2.33 | Link: https://www.etsi.org/deliver/etsi_en/300400_300499/300468/01.15.01_60/en_300468v011501p.pdf
type DescriptorService struct {
	DescriptorHeader
	Name     []byte
	Provider []byte
	Type     uint8
}

func newDescriptorService(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	d := &DescriptorService{DescriptorHeader: h, Type: b}
	dd = d

	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	if d.Provider, err = i.NextBytes(int(b)); err != nil {
		err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
		return
	}

	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	if d.Name, err = i.NextBytes(int(b)); err != nil {
		err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
		return
	}
	return
}

func (d *DescriptorService) length() uint8 {
	return uint8(3 + len(d.Name) + len(d.Provider))
}

func (d *DescriptorService) write(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	length := d.length()
	b.Write(uint8(DescriptorTagService))
	b.Write(length)
	b.Write(d.Type)
	b.Write(uint8(len(d.Provider)))
	b.Write(d.Provider)
	b.Write(uint8(len(d.Name)))
	b.Write(d.Name)

	return int(length) + 2, b.Err()
}

// DescriptorStreamIdentifier represents a stream identifier descriptor
// Chapter: 6.2.39 | Link: https://www.etsi.org/deliver/etsi_en/300400_300499/300468/01.15.01_60/en_300468v011501p.pdf
type DescriptorStreamIdentifier struct {
	DescriptorHeader
	ComponentTag uint8
}

func newDescriptorStreamIdentifier(i *astikit.BytesIterator, h DescriptorHeader) (dd Descriptor, err error) {
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	dd = &DescriptorStreamIdentifier{DescriptorHeader: h, ComponentTag: b}
	return
}

// DescriptorUserDefined represents a descriptor whose tag is in the user private range
type DescriptorUserDefined struct {
	DescriptorHeader
	Data []byte
}

func newDescriptorUserDefined(i *astikit.BytesIterator, h DescriptorHeader) (Descriptor, error) {
	return &DescriptorUserDefined{DescriptorHeader: h, Data: remaining(i)}, nil
}

// DescriptorUnknown represents a descriptor this package doesn't decode
type DescriptorUnknown struct {
	DescriptorHeader
	Content []byte
}

func newDescriptorUnknown(i *astikit.BytesIterator, h DescriptorHeader) (Descriptor, error) {
	return &DescriptorUnknown{DescriptorHeader: h, Content: remaining(i)}, nil
}
