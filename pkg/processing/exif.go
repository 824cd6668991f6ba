package processing

import (
	"encoding/binary"

	"github.com/menta2k/cropframe/pkg/source"
)

const (
	markerSOI  = 0xD8
	markerAPP1 = 0xE1
	markerSOS  = 0xDA

	tagOrientation = 0x0112
	typeShort      = 3
)

// ReadOrientation returns the EXIF orientation tag of a JPEG, or Upright when
// the data is not a JPEG or carries no readable tag. Only IFD0 is scanned.
func ReadOrientation(data []byte) source.Orientation {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return source.Upright
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return source.Upright
		}
		marker := data[pos+1]
		if marker == 0xFF {
			// fill byte
			pos++
			continue
		}
		if marker == markerSOS {
			return source.Upright
		}

		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(data) {
			return source.Upright
		}
		segment := data[pos+4 : pos+2+segLen]
		if marker == markerAPP1 {
			if o, ok := orientationFromAPP1(segment); ok {
				return o
			}
		}
		pos += 2 + segLen
	}
	return source.Upright
}

func orientationFromAPP1(seg []byte) (source.Orientation, bool) {
	if len(seg) < 14 || string(seg[:6]) != "Exif\x00\x00" {
		return 0, false
	}
	tiff := seg[6:]

	var bo binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return 0, false
	}
	if bo.Uint16(tiff[2:4]) != 42 {
		return 0, false
	}

	ifd := int(bo.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return 0, false
	}
	count := int(bo.Uint16(tiff[ifd : ifd+2]))
	for i := 0; i < count; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(tiff) {
			break
		}
		if bo.Uint16(tiff[entry:entry+2]) != tagOrientation {
			continue
		}
		if bo.Uint16(tiff[entry+2:entry+4]) != typeShort {
			return 0, false
		}
		o := source.Orientation(bo.Uint16(tiff[entry+8 : entry+10]))
		if o < source.Upright || !o.Valid() {
			return 0, false
		}
		return o, true
	}
	return 0, false
}
