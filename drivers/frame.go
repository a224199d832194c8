package drivers

import (
	"github.com/pkg/errors"
)

const (
	ReadFlag      uint8 = 0x80
	StatusSuccess uint8 = 0x00
	StatusError   uint8 = 0x01

	frameHeaderLength = 3
	maxFrameLength    = 64
	maxReplyPayload   = 64
)

// BuildWriteFrame returns [resource, command, total length, payload...].
func BuildWriteFrame(resourceId, command uint8, payload []byte) ([]byte, error) {
	total := frameHeaderLength + len(payload)
	if total > maxFrameLength {
		return nil, errors.Errorf("write frame too long (%d bytes, max %d)", total, maxFrameLength)
	}
	if command&ReadFlag != 0 {
		return nil, errors.Errorf("command id 0x%02X has read flag set", command)
	}

	frame := make([]byte, 0, total)
	frame = append(frame, resourceId, command, uint8(total))
	frame = append(frame, payload...)

	return frame, nil
}

// BuildReadFrame returns [resource, command|0x80, reply length + 1]; the extra byte is the status.
func BuildReadFrame(resourceId, command uint8, replyLen int) ([]byte, error) {
	if replyLen < 0 || replyLen > maxReplyPayload {
		return nil, errors.Errorf("reply length %d out of range (0..%d)", replyLen, maxReplyPayload)
	}

	return []byte{resourceId, command | ReadFlag, uint8(replyLen + 1)}, nil
}

// ParseReadReply checks the status byte and returns the payload part of reply.
func ParseReadReply(resourceId, command uint8, reply []byte, replyLen int) ([]byte, error) {
	if len(reply) < replyLen+1 {
		return nil, errors.Errorf("short reply (%d bytes, want %d)", len(reply), replyLen+1)
	}

	if reply[0] != StatusSuccess {
		return nil, &ProtocolError{ResourceId: resourceId, Command: command, Status: reply[0]}
	}

	return reply[1 : replyLen+1], nil
}
