// Package piper is a speech backend for a Piper server speaking the Wyoming
// protocol.
//
// Wyoming event framing:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
//
// Piper streams raw 16-bit PCM; the client wraps it in a WAV container.
package piper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	dialTimeout = 10 * time.Second
	ioTimeout   = 30 * time.Second

	// Frame limits. A Piper event header is never trusted beyond these.
	maxJSONBytes  = 1 << 20
	maxChunkBytes = 16 << 20
	maxPCMBytes   = 64 << 20
)

type Client struct {
	endpoint string
	logger   *slog.Logger
}

func New(endpoint string, logger *slog.Logger) *Client {
	endpoint = strings.TrimPrefix(endpoint, "tcp://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return &Client{endpoint: endpoint, logger: logger}
}

func (c *Client) ContentType() string { return "audio/wav" }
func (c *Client) Extension() string   { return ".wav" }

// Synthesize asks Piper to speak text with voice and writes the result to w
// as a WAV file.
func (c *Client) Synthesize(ctx context.Context, text, voice string, w io.Writer) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.endpoint)
	if err != nil {
		return fmt.Errorf("connect to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(ioTimeout))
	}

	req := event{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": voice},
		},
	}
	if err := writeEvent(conn, req, nil); err != nil {
		return fmt.Errorf("send synthesize event: %w", err)
	}

	r := bufio.NewReader(conn)
	format := audioFormat{rate: 22050, channels: 1, width: 2}
	var pcm bytes.Buffer

	for {
		evt, payload, err := readEvent(r)
		if err != nil {
			return fmt.Errorf("read piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			format.update(evt.Data)
		case "audio-chunk":
			if pcm.Len()+len(payload) > maxPCMBytes {
				return fmt.Errorf("piper audio exceeds %d bytes", maxPCMBytes)
			}
			pcm.Write(payload)
		case "audio-stop":
			c.logger.Debug("piper synthesis complete", "voice", voice, "pcm_bytes", pcm.Len(), "rate", format.rate)
			_, err := w.Write(wav(pcm.Bytes(), format))
			return err
		case "error":
			msg := "unknown error"
			if s, ok := evt.Data["text"].(string); ok {
				msg = s
			}
			return fmt.Errorf("piper: %s", msg)
		default:
			c.logger.Debug("ignoring piper event", "type", evt.Type)
		}
	}
}

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

type audioFormat struct {
	rate, channels, width int
}

func (f *audioFormat) update(data map[string]any) {
	if v, ok := data["rate"].(float64); ok {
		f.rate = int(v)
	}
	if v, ok := data["channels"].(float64); ok {
		f.channels = int(v)
	}
	if v, ok := data["width"].(float64); ok {
		f.width = int(v)
	}
}

func writeEvent(w io.Writer, evt event, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(body), len(payload))
	buf.Write(body)
	buf.WriteByte('\n')
	buf.Write(payload)

	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r *bufio.Reader) (*event, []byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	fields := strings.Fields(header)
	if len(fields) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header %q", strings.TrimSpace(header))
	}
	jsonLen, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parse json length: %w", err)
	}
	payloadLen, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, nil, fmt.Errorf("parse payload length: %w", err)
	}
	if jsonLen < 0 || jsonLen > maxJSONBytes {
		return nil, nil, fmt.Errorf("json length %d out of range", jsonLen)
	}
	if payloadLen < 0 || payloadLen > maxChunkBytes {
		return nil, nil, fmt.Errorf("payload length %d out of range", payloadLen)
	}

	// JSON body is followed by a newline.
	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("read json: %w", err)
	}

	var evt event
	if err := json.Unmarshal(body[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshal event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return &evt, payload, nil
}

// wav prepends a 44-byte RIFF header to raw PCM.
func wav(pcm []byte, f audioFormat) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(f.channels))
	_ = binary.Write(&buf, le, uint32(f.rate))
	_ = binary.Write(&buf, le, uint32(f.rate*f.channels*f.width))
	_ = binary.Write(&buf, le, uint16(f.channels*f.width))
	_ = binary.Write(&buf, le, uint16(f.width*8))

	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
