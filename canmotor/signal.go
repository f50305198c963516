package canmotor

import (
	"github.com/pkg/errors"
)

const bitsPerByte = 8

// Signal is the definition of a value packed into a CAN payload.
type Signal struct {
	Scalar       float64
	Offset       float64
	Start        uint8 // start bit
	Length       uint8 // length in bits, at most 32
	LittleEndian bool
	Signed       bool
}

// byteMask returns the mask selecting the bits of byte byteNum that belong to a signal
// spanning payload bits sigLsb through sigMsb.
func byteMask(byteNum, sigLsb, sigMsb uint8) uint8 {
	byteLsb := int(byteNum) * bitsPerByte
	byteMsb := byteLsb + bitsPerByte - 1

	maskLsb, maskMsb := 0, bitsPerByte-1
	if int(sigLsb) > byteLsb {
		maskLsb = int(sigLsb) - byteLsb
	}
	if int(sigMsb) < byteMsb {
		maskMsb = int(sigMsb) - byteLsb
	}

	ones := uint8(0xFF)
	return (ones << uint(maskMsb+1)) ^ (ones << uint(maskLsb))
}

// ExtractSignal decodes sig from data and applies its scalar and offset.
func ExtractSignal(data []byte, sig Signal) (float64, error) {
	if sig.Length == 0 || sig.Length > 32 {
		return 0, errors.Errorf("signal length %d not in [1, 32]", sig.Length)
	}
	lsb := sig.Start
	msb := sig.Start + sig.Length - 1
	byteStart, byteStop := lsb/bitsPerByte, msb/bitsPerByte
	if int(byteStop) >= len(data) {
		return 0, errors.Errorf("signal ends in byte %d of a %d byte payload", byteStop, len(data))
	}

	var raw uint64
	for i := byteStart; i <= byteStop; i++ {
		shift := i - byteStart
		if !sig.LittleEndian {
			shift = byteStop - i
		}
		raw |= uint64(byteMask(i, lsb, msb)&data[i]) << (uint(shift) * bitsPerByte)
	}
	raw >>= lsb - bitsPerByte*byteStart

	value := float64(raw)
	if sig.Signed && raw&(1<<(sig.Length-1)) != 0 {
		value = float64(int64(raw) - int64(1)<<sig.Length)
	}
	return value*sig.Scalar + sig.Offset, nil
}
