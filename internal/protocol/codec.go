package protocol

import (
	"context"
	"fmt"
)

// Encode assembles a wire frame for the given packet type and payload.
// When conf.Secure is set the payload is AES-ECB encrypted under
// conf.SecureKey before the integrity tag is computed, matching the
// order of operations the gateway's counterpart decoder expects.
func Encode(conf Conf, packetType PacketType, payload []byte) ([]byte, error) {
	body := payload
	if conf.Secure {
		enc, err := aesECBEncrypt(conf.SecureKey[:], payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode: %w", err)
		}
		body = enc
	}
	if len(body) > maxPayloadSize {
		return nil, ErrEncodeOverflow
	}

	header := make([]byte, headerSize)
	copy(header[:AppKeySize], conf.AppKey[:])
	header[AppKeySize] = conf.DevID
	header[AppKeySize+1] = byte(packetType)
	header[AppKeySize+2] = byte(len(body))

	frame := make([]byte, headerSize+len(body)+tagSize)
	copy(frame, header)
	copy(frame[headerSize:], body)

	tag := integrityTag(header, body, conf.SecureKey)
	putTag(frame[headerSize+len(body):], tag)

	if len(frame) > MaxFrameSize {
		return nil, ErrEncodeOverflow
	}
	return frame, nil
}

// Decode parses a raw frame, resolves the sending application's secure
// key through checkup, validates the integrity tag and decrypts the
// payload if the application is secure. conf's app key and device id are
// set as soon as the header length checks pass, so they are available
// even when the tag check fails; the resolved key material is set only
// once the tag is valid. After a successful decode, callers that need to
// reply (e.g. with Encode) can reuse conf directly.
func Decode(ctx context.Context, conf *Conf, frame []byte, checkup CheckupFunc) (PacketType, []byte, error) {
	if len(frame) < headerSize+tagSize {
		return 0, nil, ErrDecodeShort
	}

	var appKey [AppKeySize]byte
	copy(appKey[:], frame[:AppKeySize])
	devID := frame[AppKeySize]
	packetType := PacketType(frame[AppKeySize+1])
	payloadLen := int(frame[AppKeySize+2])

	if len(frame) != headerSize+payloadLen+tagSize {
		return 0, nil, ErrDecodeShort
	}

	header := frame[:headerSize]
	body := frame[headerSize : headerSize+payloadLen]
	wantTag := getTag(frame[headerSize+payloadLen:])

	conf.AppKey = appKey
	conf.DevID = devID

	secureKey, secure, err := checkup(ctx, appKey)
	if err != nil {
		return 0, nil, fmt.Errorf("protocol: decode: checkup: %w", err)
	}

	gotTag := integrityTag(header, body, secureKey)
	if gotTag != wantTag {
		return 0, nil, ErrDecodeTagMismatch
	}

	conf.SecureKey = secureKey
	conf.Secure = secure

	payload := body
	if secure {
		dec, err := aesECBDecrypt(secureKey[:], body)
		if err != nil {
			return 0, nil, fmt.Errorf("protocol: decode: %w", err)
		}
		payload = dec
	}

	return packetType, payload, nil
}
