// Package ntlm implements the client side of NTLMv2 authentication over
// HTTP: NEGOTIATE (Type 1), CHALLENGE (Type 2) parsing and AUTHENTICATE
// (Type 3) generation, driven by a per-connection Handshake state machine.
//
// Message layouts follow [MS-NLMP] section 2.2.1.
package ntlm

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // HMAC-MD5 is mandated by NTLMv2
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/md4" //nolint:staticcheck // MD4 is required for NTLM protocol compatibility
	"golang.org/x/text/encoding/unicode"
)

// MessageType identifies the three messages of the handshake.
type MessageType uint32

const (
	Negotiate    MessageType = 1
	Challenge    MessageType = 2
	Authenticate MessageType = 3
)

// signature prefixes every NTLM message: "NTLMSSP\0".
var signature = []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

const (
	messageTypeOffset = 8
	headerSize        = 12
)

// Type 1 layout. Domain and workstation fields are left empty; the domain
// travels in the Type 3 message.
const negotiateSize = 32

// Type 2 layout.
const (
	challengeTargetNameLenOffset = 12
	challengeTargetNameOffOffset = 16
	challengeFlagsOffset         = 20
	challengeServerChalOffset    = 24
	challengeTargetInfoLenOffset = 40
	challengeTargetInfoOffOffset = 44
	challengeMinSize             = 32
	challengeWithInfoSize        = 48
)

// Type 3 layout (no Version, no MIC).
const (
	authLmResponseFields  = 12
	authNtResponseFields  = 20
	authDomainFields      = 28
	authUserFields        = 36
	authWorkstationFields = 44
	authSessionKeyFields  = 52
	authFlagsOffset       = 60
	authBaseSize          = 64
)

// NegotiateFlag is a [MS-NLMP] 2.2.2.5 capability bit.
type NegotiateFlag uint32

const (
	FlagUnicode          NegotiateFlag = 0x00000001
	FlagOEM              NegotiateFlag = 0x00000002
	FlagRequestTarget    NegotiateFlag = 0x00000004
	FlagNTLM             NegotiateFlag = 0x00000200
	FlagAlwaysSign       NegotiateFlag = 0x00008000
	FlagExtendedSecurity NegotiateFlag = 0x00080000
	FlagTargetInfo       NegotiateFlag = 0x00800000
	Flag128              NegotiateFlag = 0x20000000
	Flag56               NegotiateFlag = 0x80000000
)

// clientFlags are offered in the NEGOTIATE message.
const clientFlags = FlagUnicode | FlagOEM | FlagRequestTarget | FlagNTLM |
	FlagAlwaysSign | FlagExtendedSecurity | FlagTargetInfo | Flag128 | Flag56

// AV_PAIR ids used by the client.
const (
	avEOL       uint16 = 0x0000
	avTimestamp uint16 = 0x0007
)

// filetimeEpochDelta is 1601-01-01 to 1970-01-01 in 100ns ticks.
const filetimeEpochDelta = 116444736000000000

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// challengeMessage is a parsed Type 2 message.
type challengeMessage struct {
	Flags           NegotiateFlag
	ServerChallenge [8]byte
	TargetName      string
	TargetInfo      []byte
	// Timestamp holds the MsvAvTimestamp AV_PAIR value, nil when absent.
	Timestamp []byte
}

// negotiateMessage builds a Type 1 message.
func negotiateMessage() []byte {
	msg := make([]byte, negotiateSize)
	copy(msg, signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:], uint32(Negotiate))
	binary.LittleEndian.PutUint32(msg[headerSize:], uint32(clientFlags))

	// Domain (16..24) and workstation (24..32) security buffers stay zero.
	return msg
}

// parseChallenge decodes a Type 2 message.
func parseChallenge(buf []byte) (*challengeMessage, error) {
	if len(buf) < challengeMinSize {
		return nil, protocolErrorf("challenge message too short (%d bytes)", len(buf))
	}

	if !bytes.Equal(buf[:len(signature)], signature) {
		return nil, protocolErrorf("invalid NTLMSSP signature")
	}

	if mt := MessageType(binary.LittleEndian.Uint32(buf[messageTypeOffset:])); mt != Challenge {
		return nil, protocolErrorf("expected challenge message, got type %d", mt)
	}

	msg := &challengeMessage{
		Flags: NegotiateFlag(binary.LittleEndian.Uint32(buf[challengeFlagsOffset:])),
	}
	copy(msg.ServerChallenge[:], buf[challengeServerChalOffset:challengeServerChalOffset+8])

	if name, ok := securityBuffer(buf, challengeTargetNameLenOffset, challengeTargetNameOffOffset); ok {
		msg.TargetName = decodeString(name, msg.Flags&FlagUnicode != 0)
	}

	if len(buf) >= challengeWithInfoSize && msg.Flags&FlagTargetInfo != 0 {
		info, ok := securityBuffer(buf, challengeTargetInfoLenOffset, challengeTargetInfoOffOffset)
		if !ok {
			return nil, protocolErrorf("target info buffer out of range")
		}

		ts, err := findAVPair(info, avTimestamp)
		if err != nil {
			return nil, err
		}

		msg.TargetInfo = append([]byte(nil), info...)
		msg.Timestamp = ts
	}

	return msg, nil
}

// securityBuffer returns the payload referenced by the (len, maxLen, offset)
// descriptor whose length field sits at lenOff.
func securityBuffer(buf []byte, lenOff, offOff int) ([]byte, bool) {
	n := int(binary.LittleEndian.Uint16(buf[lenOff:]))
	off := int(binary.LittleEndian.Uint32(buf[offOff:]))

	if n == 0 {
		return nil, true
	}

	if off < 0 || off+n > len(buf) {
		return nil, false
	}

	return buf[off : off+n], true
}

// findAVPair walks an AV_PAIR list and returns the value for id, or nil.
func findAVPair(info []byte, id uint16) ([]byte, error) {
	for i := 0; ; {
		if i+4 > len(info) {
			return nil, protocolErrorf("target info not terminated")
		}

		avID := binary.LittleEndian.Uint16(info[i:])
		avLen := int(binary.LittleEndian.Uint16(info[i+2:]))

		if avID == avEOL {
			return nil, nil
		}

		if i+4+avLen > len(info) {
			return nil, protocolErrorf("target info pair %d overruns buffer", avID)
		}

		if avID == id {
			return info[i+4 : i+4+avLen], nil
		}

		i += 4 + avLen
	}
}

// authInput is everything needed to answer a challenge.
type authInput struct {
	Domain          string
	Username        string
	Password        string
	Workstation     string
	ClientChallenge [8]byte
	Now             time.Time
}

// authenticateMessage builds the Type 3 response to chal.
func authenticateMessage(chal *challengeMessage, in authInput) ([]byte, error) {
	unicodeStrings := chal.Flags&FlagUnicode != 0

	ntowf, err := ntowfv2(in.Password, in.Username, in.Domain)
	if err != nil {
		return nil, err
	}

	timestamp := chal.Timestamp
	if timestamp == nil {
		timestamp = filetime(in.Now)
	}

	temp := clientBlob(timestamp, in.ClientChallenge, chal.TargetInfo)

	proof := hmacMD5(ntowf, chal.ServerChallenge[:], temp)
	ntResponse := append(proof, temp...)

	// With a server timestamp present the LMv2 response must be zeroed
	// ([MS-NLMP] 3.1.5.1.2).
	lmResponse := make([]byte, 24)
	if chal.Timestamp == nil {
		copy(lmResponse, hmacMD5(ntowf, chal.ServerChallenge[:], in.ClientChallenge[:]))
		copy(lmResponse[16:], in.ClientChallenge[:])
	}

	domain, err := encodeString(strings.ToUpper(in.Domain), unicodeStrings)
	if err != nil {
		return nil, err
	}

	user, err := encodeString(in.Username, unicodeStrings)
	if err != nil {
		return nil, err
	}

	workstation, err := encodeString(strings.ToUpper(in.Workstation), unicodeStrings)
	if err != nil {
		return nil, err
	}

	payloads := []struct {
		fieldsOffset int
		data         []byte
	}{
		{authLmResponseFields, lmResponse},
		{authNtResponseFields, ntResponse},
		{authDomainFields, domain},
		{authUserFields, user},
		{authWorkstationFields, workstation},
		{authSessionKeyFields, nil},
	}

	size := authBaseSize
	for _, p := range payloads {
		size += len(p.data)
	}

	msg := make([]byte, size)
	copy(msg, signature)
	binary.LittleEndian.PutUint32(msg[messageTypeOffset:], uint32(Authenticate))

	offset := authBaseSize
	for _, p := range payloads {
		binary.LittleEndian.PutUint16(msg[p.fieldsOffset:], uint16(len(p.data)))
		binary.LittleEndian.PutUint16(msg[p.fieldsOffset+2:], uint16(len(p.data)))
		binary.LittleEndian.PutUint32(msg[p.fieldsOffset+4:], uint32(offset))
		copy(msg[offset:], p.data)
		offset += len(p.data)
	}

	flags := chal.Flags & clientFlags
	if !unicodeStrings {
		flags |= FlagOEM
	}

	binary.LittleEndian.PutUint32(msg[authFlagsOffset:], uint32(flags))

	return msg, nil
}

// clientBlob is the NTLMv2 "temp" structure hashed into NTProofStr.
func clientBlob(timestamp []byte, clientChallenge [8]byte, targetInfo []byte) []byte {
	var b bytes.Buffer

	b.Write([]byte{0x01, 0x01, 0, 0, 0, 0, 0, 0})
	b.Write(timestamp)
	b.Write(clientChallenge[:])
	b.Write([]byte{0, 0, 0, 0})
	b.Write(targetInfo)
	b.Write([]byte{0, 0, 0, 0})

	return b.Bytes()
}

// ntHash is MD4(UTF-16LE(password)).
func ntHash(password string) ([]byte, error) {
	enc, err := utf16le.NewEncoder().Bytes([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("ntlm: encoding password: %w", err)
	}

	h := md4.New()
	h.Write(enc)

	return h.Sum(nil), nil
}

// ntowfv2 is HMAC-MD5(NTHash, UTF-16LE(UPPER(user) + domain)).
func ntowfv2(password, username, domain string) ([]byte, error) {
	hash, err := ntHash(password)
	if err != nil {
		return nil, err
	}

	identity, err := utf16le.NewEncoder().Bytes([]byte(strings.ToUpper(username) + domain))
	if err != nil {
		return nil, fmt.Errorf("ntlm: encoding identity: %w", err)
	}

	return hmacMD5(hash, identity), nil
}

func hmacMD5(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(md5.New, key)
	for _, p := range parts {
		mac.Write(p)
	}

	return mac.Sum(nil)
}

func filetime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t.UnixNano()/100+filetimeEpochDelta)) //nolint:gosec // post-1601 timestamps are positive

	return b
}

func encodeString(s string, unicodeStrings bool) ([]byte, error) {
	if !unicodeStrings {
		return []byte(s), nil
	}

	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("ntlm: encoding %q: %w", s, err)
	}

	return b, nil
}

func decodeString(b []byte, unicodeStrings bool) string {
	if !unicodeStrings {
		return string(b)
	}

	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}

	return string(s)
}
