// Package amiga implements the standard AmigaDOS sector format and the
// copy-protection schemes built on top of it, grounded on the reference
// MFM reader's ReadSectorAmiga/readDataAmiga (the sync scan, header/
// label/data layout, and odd/even interleave) generalized to the
// stream/tbuf/handler pipeline instead of a one-shot whole-track
// decoder.
package amiga

import (
	"encoding/binary"
	"fmt"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

const (
	amigaSync       = 0x44894489
	amigaSectorSize = 512
	amigaNrSectors  = 11
	amigaHeaderLen  = 4  // format byte, track, sector, sectors-to-gap
	amigaLabelLen   = 16 // sector label, unused by any format we model
	amigaFormatByte = 0xFF
)

// maxScanBits bounds how long WriteRaw will search a track for sectors
// before giving up; it covers several revolutions' worth of bits so a
// soft/synthetic stream (which never ends on its own) still terminates.
const maxScanBits = amigaNrSectors * (amigaSectorSize + 64) * 16 * 3

// amigaChecksum folds a decoded byte region into the simple XOR-of-
// longwords scheme AmigaDOS sectors are checked against. Real AmigaDOS
// hardware computes this checksum over the still odd/even-interleaved
// on-disk longwords before they are merged; here it is computed over
// the already-merged decoded bytes instead, since this module's
// EvenOdd codec (package mfm) is a from-scratch invertible plane split
// rather than a bit-exact replica of the original hardware interleave,
// and the encoder computes the matching checksum the same way on
// write, preserving the write/read round trip this format depends on.
func amigaChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		sum ^= binary.BigEndian.Uint32(data[i : i+4])
	}
	return sum
}

type amigadosHandler struct{}

func (amigadosHandler) Name() string        { return "amigados" }
func (amigadosHandler) BytesPerSector() int { return amigaSectorSize }
func (amigadosHandler) NrSectors() int      { return amigaNrSectors }

func (amigadosHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
	ti.BytesPerSector = amigaSectorSize
	ti.NrSectors = amigaNrSectors
	if ti.Data == nil {
		ti.Data = make([]byte, amigaSectorSize*amigaNrSectors)
	}

	scanned := 0
	for scanned < maxScanBits {
		bit, err := s.NextBit()
		if err != nil {
			break
		}
		scanned++
		if s.Word != amigaSync {
			continue
		}
		_ = bit

		ti.DataBitOff = s.IndexOffsetBC - 31

		rawHdr, err := s.NextBytes(2 * (amigaHeaderLen + amigaLabelLen))
		if err != nil {
			break
		}
		hdr, err := mfm.DecodeBytes(mfm.EvenOdd, amigaHeaderLen+amigaLabelLen, rawHdr)
		if err != nil {
			continue
		}
		if hdr[0] != amigaFormatByte {
			continue
		}
		sector := int(hdr[2])
		if sector < 0 || sector >= amigaNrSectors {
			continue
		}

		rawHdrSum, err := s.NextBytes(8)
		if err != nil {
			break
		}
		hdrSumBytes, err := mfm.DecodeBytes(mfm.EvenOdd, 4, rawHdrSum)
		if err != nil {
			continue
		}
		storedHdrSum := binary.BigEndian.Uint32(hdrSumBytes)
		if amigaChecksum(hdr) != storedHdrSum {
			continue
		}

		rawDataSum, err := s.NextBytes(8)
		if err != nil {
			break
		}
		dataSumBytes, err := mfm.DecodeBytes(mfm.EvenOdd, 4, rawDataSum)
		if err != nil {
			continue
		}
		storedDataSum := binary.BigEndian.Uint32(dataSumBytes)

		rawData, err := s.NextBytes(2 * amigaSectorSize)
		if err != nil {
			break
		}
		data, err := mfm.DecodeBytes(mfm.EvenOdd, amigaSectorSize, rawData)
		if err != nil {
			continue
		}

		copy(ti.Data[sector*amigaSectorSize:], data)
		if amigaChecksum(data) == storedDataSum {
			ti.SetValidSector(sector)
		}

		if ti.AllSectorsValid() {
			break
		}
	}

	if ti.ValidSectors == 0 {
		return handler.ErrNotRecognized
	}
	return nil
}

func (amigadosHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	if ti.NrSectors == 0 {
		ti.NrSectors = amigaNrSectors
	}
	if ti.BytesPerSector == 0 {
		ti.BytesPerSector = amigaSectorSize
	}
	label := make([]byte, amigaLabelLen)

	for sector := 0; sector < ti.NrSectors; sector++ {
		hdr := make([]byte, amigaHeaderLen+amigaLabelLen)
		hdr[0] = amigaFormatByte
		hdr[1] = 0 // track number is not recorded: always written as 0, never checked by WriteRaw
		hdr[2] = byte(sector)
		hdr[3] = byte(ti.NrSectors - sector - 1)
		copy(hdr[amigaHeaderLen:], label)

		tb.Bits(tbuf.SpeedAvg, mfm.Raw, 32, amigaSync)
		tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, hdr)

		hdrSum := make([]byte, 4)
		binary.BigEndian.PutUint32(hdrSum, amigaChecksum(hdr))
		tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, hdrSum)

		start := sector * ti.BytesPerSector
		end := start + ti.BytesPerSector
		if end > len(ti.Data) {
			return fmt.Errorf("amigados: track data too short for sector %d", sector)
		}
		secData := ti.Data[start:end]

		dataSum := make([]byte, 4)
		binary.BigEndian.PutUint32(dataSum, amigaChecksum(secData))
		tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, dataSum)

		tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, secData)
	}
	return nil
}

func init() {
	handler.Register(amigadosHandler{})
}
