package ntlm

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrProtocol is the sentinel all handshake protocol failures unwrap to.
var ErrProtocol = errors.New("ntlm: protocol error")

// ProtocolError describes a malformed or out-of-order handshake message.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "ntlm: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// Phase is the position of a Handshake in the three-message exchange.
type Phase int

const (
	Uninitiated Phase = iota
	Initiated
	Type1Sent
	Type2Received
	Type3Sent
	Failed
)

func (p Phase) String() string {
	switch p {
	case Uninitiated:
		return "uninitiated"
	case Initiated:
		return "initiated"
	case Type1Sent:
		return "type1-sent"
	case Type2Received:
		return "type2-received"
	case Type3Sent:
		return "type3-sent"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Scheme is the HTTP authentication scheme token.
const Scheme = "NTLM"

// Credentials for an NTLM handshake. Workstation may be empty.
type Credentials struct {
	Domain      string
	Username    string
	Password    string
	Workstation string
}

// Handshake drives one NTLM exchange. It is bound to a single connection
// attempt and is not safe for concurrent use.
type Handshake struct {
	creds     Credentials
	phase     Phase
	challenge *challengeMessage
	id        string
	logger    *slog.Logger

	// now and random are replaceable for deterministic tests.
	now    func() time.Time
	random io.Reader
}

// NewHandshake returns a Handshake in the Uninitiated phase.
func NewHandshake(creds Credentials, logger *slog.Logger) *Handshake {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handshake{
		creds:  creds,
		phase:  Uninitiated,
		id:     uuid.NewString(),
		logger: logger,
		now:    time.Now,
		random: rand.Reader,
	}
}

// Phase returns the current phase.
func (h *Handshake) Phase() Phase {
	return h.phase
}

// IsComplete reports whether no further message will be produced.
func (h *Handshake) IsComplete() bool {
	return h.phase == Type3Sent || h.phase == Failed
}

// Start moves an Uninitiated handshake to Initiated.
func (h *Handshake) Start() {
	if h.phase == Uninitiated {
		h.setPhase(Initiated)
	}
}

// ProcessChallenge consumes a WWW-Authenticate header value. A bare "NTLM"
// starts the handshake when Uninitiated and marks it Failed otherwise (the
// server rejected our response). "NTLM <base64>" carries the Type 2
// message.
func (h *Handshake) ProcessChallenge(header string) error {
	header = strings.TrimSpace(header)

	if len(header) < len(Scheme) || !strings.EqualFold(header[:len(Scheme)], Scheme) ||
		(len(header) > len(Scheme) && header[len(Scheme)] != ' ') {
		h.setPhase(Failed)

		return protocolErrorf("unexpected authentication scheme in %q", truncate(header, 16))
	}

	token := strings.TrimSpace(header[len(Scheme):])
	if token == "" {
		if h.phase == Uninitiated {
			h.setPhase(Initiated)
		} else {
			h.setPhase(Failed)
		}

		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		h.setPhase(Failed)

		return protocolErrorf("challenge is not valid base64: %v", err)
	}

	chal, err := parseChallenge(raw)
	if err != nil {
		h.setPhase(Failed)

		return err
	}

	h.challenge = chal
	h.setPhase(Type2Received)

	return nil
}

// Authenticate returns the next Authorization header value: a Type 1
// message from Initiated or Failed, a Type 3 message otherwise.
func (h *Handshake) Authenticate() (string, error) {
	var (
		msg []byte
		err error
	)

	switch h.phase {
	case Uninitiated:
		return "", protocolErrorf("handshake has not been initiated")
	case Initiated, Failed:
		msg = negotiateMessage()
		h.challenge = nil
		h.setPhase(Type1Sent)
	default:
		if h.challenge == nil {
			return "", protocolErrorf("no challenge received in phase %s", h.phase)
		}

		msg, err = h.type3()
		if err != nil {
			h.setPhase(Failed)
			return "", err
		}

		h.setPhase(Type3Sent)
	}

	return Scheme + " " + base64.StdEncoding.EncodeToString(msg), nil
}

func (h *Handshake) type3() ([]byte, error) {
	in := authInput{
		Domain:      h.creds.Domain,
		Username:    h.creds.Username,
		Password:    h.creds.Password,
		Workstation: h.creds.Workstation,
		Now:         h.now(),
	}

	if _, err := io.ReadFull(h.random, in.ClientChallenge[:]); err != nil {
		return nil, fmt.Errorf("ntlm: generating client challenge: %w", err)
	}

	return authenticateMessage(h.challenge, in)
}

func (h *Handshake) setPhase(p Phase) {
	if h.phase == p {
		return
	}

	h.logger.Debug("ntlm handshake transition",
		slog.String("handshake_id", h.id),
		slog.String("from", h.phase.String()),
		slog.String("to", p.String()),
	)

	h.phase = p
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
