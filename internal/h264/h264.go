// Package h264 holds the H.264 bitstream helpers the depacketizer needs to
// describe a frame: NAL unit scanning, SPS resolution parsing, and building
// the decoder configuration record carried as a frame's codec config.
package h264

import (
	"errors"
	"fmt"
)

// NAL unit types from ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// ErrShortSPS is returned when an SPS ends before the resolution fields.
var ErrShortSPS = errors.New("h264: SPS data too short")

// SPSInfo holds the SPS fields a relay cares about.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.42E01E".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte // includes the NAL header byte
}

// ParseAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}
	var positions []scPos
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// IsKeyframe reports whether the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool { return nalType == NALTypeIDR }

// IsSPS reports whether the NAL type is a sequence parameter set.
func IsSPS(nalType byte) bool { return nalType == NALTypeSPS }

// IsPPS reports whether the NAL type is a picture parameter set.
func IsPPS(nalType byte) bool { return nalType == NALTypePPS }

// ParseSPS extracts resolution and profile/level from an SPS NAL unit
// (header byte included, start code excluded). VUI is not parsed.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrShortSPS
	}

	br := newBitReader(removeEmulationPrevention(nalu[1:]))

	profileIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraintFlags, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readUE(); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormatIdc := uint(1)
	separateColourPlane := false

	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		if chromaFormatIdc, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIdc == 3 {
			v, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separateColourPlane = v == 1
		}
		// bit_depth_luma, bit_depth_chroma, qpprime_y_zero_transform_bypass
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}

		scalingPresent, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if scalingPresent == 1 {
			lists := 8
			if chromaFormatIdc == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if flag == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := br.skipScalingList(size); err != nil {
					return SPSInfo{}, err
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	pocType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	switch pocType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		cycle, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < cycle; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_allowed
		return SPSInfo{}, err
	}

	widthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil { // mb_adaptive_frame_field
			return SPSInfo{}, err
		}
	}
	if _, err := br.readBits(1); err != nil { // direct_8x8_inference
		return SPSInfo{}, err
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	cropping, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if cropping == 1 {
		for _, dst := range []*uint{&cropLeft, &cropRight, &cropTop, &cropBottom} {
			if *dst, err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	return SPSInfo{
		Width:           int((widthMbs+1)*16 - cropUnitX*(cropLeft+cropRight)),
		Height:          int((heightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom)),
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}, nil
}

// BuildAVCDecoderConfig builds an AVCDecoderConfigurationRecord
// (ISO 14496-15 5.2.4.1.1) from one SPS and one PPS without start codes.
// It returns nil if either is missing.
func BuildAVCDecoderConfig(sps, pps []byte) []byte {
	if len(sps) < 4 || len(pps) == 0 {
		return nil
	}

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf,
		1,      // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xFF,   // lengthSizeMinusOne = 3
		0xE1,   // one SPS
	)
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)
	buf = append(buf, 1, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)
	return buf
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
