// Package opreturn encodes and decodes the typed OP_RETURN payload carried
// by metaprotocol transactions: CLAIM, RETRY-CLAIM, UPDATE and TRANSFER.
//
// Wire format (all multi-byte integers little-endian):
//
//	magic[2] = 0x13 0x37 | version[1] = 0x01 | type[1] | body
//
// CLAIM and UPDATE bodies are x0[2] y0[2] uri(CBOR text string) bmp(raw
// bytes to end). RETRY-CLAIM is x0[2] y0[2]. TRANSFER carries no body; it is
// never produced by Encode and is recognized by Decode only so callers can
// distinguish "parsed as TRANSFER" from "did not parse".
package opreturn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/toole-brendan/plotproto/bmp"
)

// strictURIMode is a cbor.DecMode that forbids indefinite-length text
// strings, so decodeURI's rejection of them is the library's own behavior
// rather than a hand-rolled check against the major-type/addInfo byte.
var strictURIMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{IndefLength: cbor.IndefLengthForbidden}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Errors returned by Encode/Decode, named exactly per the protocol spec.
var (
	ErrInvalidCoord   = errors.New("opreturn: coordinate out of range")
	ErrInvalidBmp     = errors.New("opreturn: invalid bmp payload")
	ErrOutOfBounds    = errors.New("opreturn: placement exceeds canvas bounds")
	ErrBadMagic       = errors.New("opreturn: bad magic bytes")
	ErrUnknownVersion = errors.New("opreturn: unknown version")
	ErrUnknownType    = errors.New("opreturn: unknown payload type")
	ErrTruncated      = errors.New("opreturn: truncated payload")
	ErrInvalidURI     = errors.New("opreturn: invalid uri")
)

// Type identifies the payload's transaction type.
type Type byte

const (
	TypeClaim      Type = 0x01
	TypeRetryClaim Type = 0x02
	TypeUpdate     Type = 0x03
	TypeTransfer   Type = 0x04
)

const (
	magicByte0   = 0x13
	magicByte1   = 0x37
	wireVersion1 = 0x01
	headerLen    = 4 // magic[2] + version[1] + type[1]

	// CanvasSize is the number of pixels per axis on the fixed canvas.
	CanvasSize = 65536
)

// Claim is the decoded body of a CLAIM payload.
type Claim struct {
	X0, Y0 uint16
	URI    string
	BMP    []byte
	Info   bmp.Info
}

// RetryClaim is the decoded body of a RETRY-CLAIM payload.
type RetryClaim struct {
	X0, Y0 uint16
}

// Update is the decoded body of an UPDATE payload.
type Update struct {
	X0, Y0 uint16
	URI    string
	BMP    []byte
	Info   bmp.Info
}

// Payload is the tagged result of Decode. Exactly one of Claim, RetryClaim,
// Update is non-nil, keyed by Type; none are set for TypeTransfer.
type Payload struct {
	Type       Type
	Claim      *Claim
	RetryClaim *RetryClaim
	Update     *Update
}

// EncodeClaim builds a CLAIM payload. It fails with ErrInvalidCoord if x0/y0
// don't fit a canvas coordinate, ErrInvalidBmp if bmpData fails validation,
// or ErrOutOfBounds if the resulting rectangle would exceed the canvas.
func EncodeClaim(x0, y0 uint32, uri string, bmpData []byte) ([]byte, error) {
	return encodeClaimOrUpdate(TypeClaim, x0, y0, uri, bmpData)
}

// EncodeUpdate builds an UPDATE payload with the same validation as
// EncodeClaim.
func EncodeUpdate(x0, y0 uint32, uri string, bmpData []byte) ([]byte, error) {
	return encodeClaimOrUpdate(TypeUpdate, x0, y0, uri, bmpData)
}

func encodeClaimOrUpdate(t Type, x0, y0 uint32, uri string, bmpData []byte) ([]byte, error) {
	if x0 > 0xFFFF || y0 > 0xFFFF {
		return nil, ErrInvalidCoord
	}
	info, err := bmp.Validate(bmpData)
	if err != nil {
		return nil, ErrInvalidBmp
	}
	if uint64(x0)+uint64(info.Width) > CanvasSize || uint64(y0)+uint64(info.Height) > CanvasSize {
		return nil, ErrOutOfBounds
	}

	uriBytes, err := cbor.Marshal(uri)
	if err != nil {
		return nil, ErrInvalidURI
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(magicByte0)
	buf.WriteByte(magicByte1)
	buf.WriteByte(wireVersion1)
	buf.WriteByte(byte(t))
	writeUint16LE(buf, uint16(x0))
	writeUint16LE(buf, uint16(y0))
	buf.Write(uriBytes)
	buf.Write(bmpData)
	return buf.Bytes(), nil
}

// EncodeRetryClaim builds a RETRY-CLAIM payload.
func EncodeRetryClaim(x0, y0 uint32) ([]byte, error) {
	if x0 > 0xFFFF || y0 > 0xFFFF {
		return nil, ErrInvalidCoord
	}
	buf := new(bytes.Buffer)
	buf.WriteByte(magicByte0)
	buf.WriteByte(magicByte1)
	buf.WriteByte(wireVersion1)
	buf.WriteByte(byte(TypeRetryClaim))
	writeUint16LE(buf, uint16(x0))
	writeUint16LE(buf, uint16(y0))
	return buf.Bytes(), nil
}

// Decode parses an OP_RETURN payload. It never returns a partially
// populated Payload: on error the returned pointer is nil.
func Decode(data []byte) (*Payload, error) {
	if len(data) < headerLen {
		return nil, ErrTruncated
	}
	if data[0] != magicByte0 || data[1] != magicByte1 {
		return nil, ErrBadMagic
	}
	if data[2] != wireVersion1 {
		return nil, ErrUnknownVersion
	}

	t := Type(data[3])
	body := data[headerLen:]

	switch t {
	case TypeClaim, TypeUpdate:
		x0, y0, rest, err := readCoords(body)
		if err != nil {
			return nil, err
		}
		uri, consumed, err := decodeURI(rest)
		if err != nil {
			return nil, err
		}
		bmpData := rest[consumed:]
		info, err := bmp.Validate(bmpData)
		if err != nil {
			return nil, ErrInvalidBmp
		}
		if t == TypeClaim {
			return &Payload{Type: t, Claim: &Claim{X0: x0, Y0: y0, URI: uri, BMP: bmpData, Info: info}}, nil
		}
		return &Payload{Type: t, Update: &Update{X0: x0, Y0: y0, URI: uri, BMP: bmpData, Info: info}}, nil

	case TypeRetryClaim:
		x0, y0, rest, err := readCoords(body)
		if err != nil {
			return nil, err
		}
		_ = rest // RETRY-CLAIM has no further body
		return &Payload{Type: t, RetryClaim: &RetryClaim{X0: x0, Y0: y0}}, nil

	case TypeTransfer:
		return &Payload{Type: t}, nil

	default:
		return nil, ErrUnknownType
	}
}

func readCoords(body []byte) (x0, y0 uint16, rest []byte, err error) {
	if len(body) < 4 {
		return 0, 0, nil, ErrTruncated
	}
	x0 = binary.LittleEndian.Uint16(body[0:2])
	y0 = binary.LittleEndian.Uint16(body[2:4])
	return x0, y0, body[4:], nil
}

func writeUint16LE(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

// decodeURI reads a single CBOR text string from the front of data and
// returns its value and the number of bytes it occupied. strictURIMode
// rejects indefinite-length text strings itself (ErrInvalidURI is returned
// rather than an indefinite-length value ever reaching the caller); the
// item's type is likewise enforced by decoding into a string rather than
// by inspecting the major-type byte by hand.
func decodeURI(data []byte) (uri string, consumed int, err error) {
	if len(data) == 0 {
		return "", 0, ErrTruncated
	}

	dec := strictURIMode.NewDecoder(bytes.NewReader(data))
	if decErr := dec.Decode(&uri); decErr != nil {
		if errors.Is(decErr, io.EOF) || errors.Is(decErr, io.ErrUnexpectedEOF) {
			return "", 0, ErrTruncated
		}
		return "", 0, ErrInvalidURI
	}
	return uri, dec.NumBytesRead(), nil
}
