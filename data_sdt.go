package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// Running statuses
const (
	RunningStatusNotRunning          = 1
	RunningStatusPausing             = 3
	RunningStatusRunning             = 4
	RunningStatusServiceOffAir       = 5
	RunningStatusStartsInAFewSeconds = 2
	RunningStatusUndefined           = 0
)

// SDTData represents an SDT data
// Page: 33 | Chapter: 5.2.3 | Link: https://www.dvb.org/resources/public/standards/a38_dvb-si_specification.pdf
type SDTData struct {
	OriginalNetworkID uint16
	Services          []*SDTService
	TransportStreamID uint16
}

// SDTService represents an SDT service
type SDTService struct {
	Descriptors             []Descriptor
	EITPresentFollowingFlag bool
	EITScheduleFlag         bool
	HasFreeCSAMode          bool
	RunningStatus           uint8
	ServiceID               uint16
}

// Service returns the first service descriptor of the service, if any
func (s *SDTService) Service() *DescriptorService {
	for _, d := range s.Descriptors {
		if v, ok := d.(*DescriptorService); ok {
			return v
		}
	}
	return nil
}

// parseSDTSection parses an SDT section
func parseSDTSection(i *astikit.BytesIterator, offsetSectionsEnd int, tableIDExtension uint16) (d *SDTData, err error) {
	d = &SDTData{TransportStreamID: tableIDExtension}

	// original_network_id then one reserved byte
	var bs []byte
	if bs, err = nextBytes(i, 3); err != nil {
		return
	}
	d.OriginalNetworkID = binary.BigEndian.Uint16(bs)

	for i.Offset() < offsetSectionsEnd {
		if bs, err = nextBytes(i, 5); err != nil {
			return
		}
		s := &SDTService{
			ServiceID:               binary.BigEndian.Uint16(bs),
			EITScheduleFlag:         bs[2]&0x2 > 0,
			EITPresentFollowingFlag: bs[2]&0x1 > 0,
			RunningStatus:           bs[3] >> 5,
			HasFreeCSAMode:          bs[3]&0x10 > 0,
		}

		descriptorsLength := int(binary.BigEndian.Uint16(bs[3:]) & 0xfff)
		if i.Offset()+descriptorsLength > offsetSectionsEnd {
			err = fmt.Errorf("astimpeg: service descriptors length %d overflows section: %w", descriptorsLength, ErrInvalidData)
			return
		}
		if s.Descriptors, err = parseDescriptors(i, descriptorsLength); err != nil {
			err = fmt.Errorf("astimpeg: parsing descriptors failed: %w", err)
			return
		}

		d.Services = append(d.Services, s)
	}
	return
}

func (d *SDTData) calcSDTSectionLength() (ret int) {
	ret = 3
	for _, s := range d.Services {
		ret += 5
		for _, ds := range s.Descriptors {
			if v, ok := ds.(*DescriptorService); ok {
				ret += 2 + int(v.length())
			}
		}
	}
	return
}

// writeSDTSection writes the services. Only service descriptors are written.
func (d *SDTData) writeSDTSection(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	b.Write(d.OriginalNetworkID)
	b.Write(uint8(0xff))

	for _, s := range d.Services {
		var descriptorsLength int
		for _, ds := range s.Descriptors {
			if v, ok := ds.(*DescriptorService); ok {
				descriptorsLength += 2 + int(v.length())
			}
		}

		b.Write(s.ServiceID)
		b.WriteN(uint8(0xff), 6)
		b.Write(s.EITScheduleFlag)
		b.Write(s.EITPresentFollowingFlag)
		b.WriteN(s.RunningStatus, 3)
		b.Write(s.HasFreeCSAMode)
		b.WriteN(uint16(descriptorsLength), 12)
		if err := b.Err(); err != nil {
			return 0, fmt.Errorf("astimpeg: writing SDT service failed: %w", err)
		}

		for _, ds := range s.Descriptors {
			if v, ok := ds.(*DescriptorService); ok {
				if _, err := v.write(w); err != nil {
					return 0, fmt.Errorf("astimpeg: writing service descriptor failed: %w", err)
				}
			}
		}
	}

	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing SDT section failed: %w", err)
	}
	return d.calcSDTSectionLength(), nil
}
