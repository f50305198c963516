package canmotor

import (
	"encoding/binary"
	"math"

	"github.com/go-daq/canbus"
	"golang.org/x/sys/unix"
)

// constants from the motor controller protocol.
const (
	apiVelocitySetpoint uint32 = 0x012
	apiPositionSetpoint uint32 = 0x032
	apiWrapConfig       uint32 = 0x0C0
	apiDriveStatus      uint32 = 0x061
	apiTurnStatus       uint32 = 0x065

	controlTypeVelocity byte = 1
	controlTypePosition byte = 2

	// MaxDeviceID is the largest device ID that fits in an arbitration ID.
	MaxDeviceID   = 0x3F
	deviceIDShift = 6
)

var (
	signalDrivePosition = Signal{Scalar: 1.0 / 4096, Start: 0, Length: 32, LittleEndian: true, Signed: true}
	signalDriveVelocity = Signal{Scalar: 0.25, Start: 32, Length: 16, LittleEndian: true, Signed: true}
	signalTurnPosition  = Signal{Scalar: 1.0 / 65536, Start: 0, Length: 16, LittleEndian: true}
)

func arbitrationID(api uint32, device uint8) uint32 {
	return api<<deviceIDShift | uint32(device)&MaxDeviceID
}

func splitArbitrationID(id uint32) (api uint32, device uint8) {
	return (id & unix.CAN_EFF_MASK) >> deviceIDShift, uint8(id & MaxDeviceID)
}

func isSetpoint(id uint32) bool {
	api, _ := splitArbitrationID(id)
	return api == apiVelocitySetpoint || api == apiPositionSetpoint
}

type command interface {
	toFrame() canbus.Frame
}

// setpoint is a closed-loop target. The controller holds it until the next one arrives.
type setpoint struct {
	api     uint32
	device  uint8
	value   float64
	control byte
}

func (cmd setpoint) toFrame() canbus.Frame {
	frame := canbus.Frame{
		ID:   arbitrationID(cmd.api, cmd.device),
		Data: make([]byte, 8),
		Kind: canbus.EFF,
	}
	binary.LittleEndian.PutUint32(frame.Data[0:4], math.Float32bits(float32(cmd.value)))
	frame.Data[4] = cmd.control
	return frame
}

// wrapConfig sets the range, in rotations, across which the position controller wraps
// its error.
type wrapConfig struct {
	device   uint8
	min, max float64
}

func (cmd wrapConfig) toFrame() canbus.Frame {
	frame := canbus.Frame{
		ID:   arbitrationID(apiWrapConfig, cmd.device),
		Data: make([]byte, 8),
		Kind: canbus.EFF,
	}
	binary.LittleEndian.PutUint32(frame.Data[0:4], math.Float32bits(float32(cmd.min)))
	binary.LittleEndian.PutUint32(frame.Data[4:8], math.Float32bits(float32(cmd.max)))
	return frame
}

// receiveFilters admits only the status frames of the given devices.
func receiveFilters(devices []uint8) []unix.CanFilter {
	filters := make([]unix.CanFilter, 0, 2*len(devices))
	for _, device := range devices {
		for _, api := range []uint32{apiDriveStatus, apiTurnStatus} {
			filters = append(filters, unix.CanFilter{
				Id:   arbitrationID(api, device) | unix.CAN_EFF_FLAG,
				Mask: unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG,
			})
		}
	}
	return filters
}
