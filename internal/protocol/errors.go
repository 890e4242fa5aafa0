package protocol

import "errors"

// ErrEncodeOverflow is returned by Encode when the resulting frame would
// exceed MaxFrameSize.
var ErrEncodeOverflow = errors.New("protocol: encoded frame exceeds maximum frame size")

// ErrDecodeTagMismatch is returned by Decode when the trailing integrity
// tag does not match the frame's header and payload under the resolved
// secure key.
var ErrDecodeTagMismatch = errors.New("protocol: integrity tag mismatch")

// ErrDecodeShort is returned by Decode when the frame is too small to
// contain a header and tag, or when the header's declared payload length
// is inconsistent with the number of bytes actually received.
var ErrDecodeShort = errors.New("protocol: frame too short")

// ErrDecodeBadType is reserved for a packet-type byte decode refuses to
// accept structurally. The current dispatch accepts any byte value here
// and lets the request handler's switch decide NACK-worthiness; this
// sentinel exists for a stricter decode mode and is not produced by
// Decode today.
var ErrDecodeBadType = errors.New("protocol: unrecognised packet type")
