// Package mcu is the host side of the command link: it fetches the
// firmware's dictionary, encodes commands by name, and decodes responses
// using the formats the dictionary declares.
package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dmai2c/host/serial"
	"dmai2c/protocol"
)

// DefaultTimeout bounds the wait for a response.
const DefaultTimeout = time.Second

const (
	identifyCmdID      = 1
	identifyResponseID = 0
	identifyChunk      = 40
)

var (
	ErrNotConnected = errors.New("mcu: not connected")
	ErrNoDictionary = errors.New("mcu: dictionary not loaded")
)

// MCU represents a connection to the firmware.
type MCU struct {
	// Timeout bounds the wait for each response.
	Timeout time.Duration

	logger    *zap.SugaredLogger
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	dictionary     *Dictionary
	dictionaryData []byte

	connected bool
}

// Dictionary represents the parsed firmware dictionary.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commands  map[string]*Format
	responses map[uint16]*Format
}

// Format is one command or response signature split into its parts.
type Format struct {
	ID     uint16
	Name   string
	Params []Param
}

// Param is one "name=%x" field of a signature.
type Param struct {
	Name string
	Type string // "%u", "%i", "%c", "%hu", "%*s", ...
}

func (p Param) isBytes() bool { return strings.HasSuffix(p.Type, "s") }

func (p Param) signed() bool { return p.Type == "%i" || p.Type == "%hi" }

// ParseFormat splits a signature such as "i2c_read oid=%c reg=%*s read_len=%u".
func ParseFormat(id uint16, signature string) (*Format, error) {
	fields := strings.Fields(signature)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty signature for id %d", id)
	}
	f := &Format{ID: id, Name: fields[0]}
	for _, field := range fields[1:] {
		name, typ, ok := strings.Cut(field, "=")
		if !ok || !strings.HasPrefix(typ, "%") {
			return nil, fmt.Errorf("%s: bad parameter %q", f.Name, field)
		}
		f.Params = append(f.Params, Param{Name: name, Type: typ})
	}
	return f, nil
}

func (d *Dictionary) index() error {
	d.commands = make(map[string]*Format, len(d.Commands))
	d.responses = make(map[uint16]*Format, len(d.Responses))
	for sig, id := range d.Commands {
		f, err := ParseFormat(uint16(id), sig)
		if err != nil {
			return err
		}
		d.commands[f.Name] = f
	}
	for sig, id := range d.Responses {
		f, err := ParseFormat(uint16(id), sig)
		if err != nil {
			return err
		}
		d.responses[f.ID] = f
	}
	return nil
}

// Command returns the format of the named command.
func (d *Dictionary) Command(name string) (*Format, bool) {
	f, ok := d.commands[name]
	return f, ok
}

// Response is a decoded response block.
type Response struct {
	Name   string
	Values map[string]int64
	Bytes  map[string][]byte
}

// OID returns the response's oid parameter, or -1 when it has none.
func (r *Response) OID() int {
	v, ok := r.Values["oid"]
	if !ok {
		return -1
	}
	return int(v)
}

// DecodeResponse decodes a response payload, including its leading id.
func (d *Dictionary) DecodeResponse(payload []byte) (*Response, error) {
	id, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, err
	}
	f, ok := d.responses[uint16(id)]
	if !ok {
		return nil, fmt.Errorf("unknown response id %d", id)
	}
	r := &Response{Name: f.Name, Values: map[string]int64{}, Bytes: map[string][]byte{}}
	for _, p := range f.Params {
		switch {
		case p.isBytes():
			b, err := protocol.DecodeVLQBytes(&payload)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", f.Name, p.Name, err)
			}
			r.Bytes[p.Name] = append([]byte(nil), b...)
		case p.signed():
			v, err := protocol.DecodeVLQInt(&payload)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", f.Name, p.Name, err)
			}
			r.Values[p.Name] = int64(v)
		default:
			v, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", f.Name, p.Name, err)
			}
			r.Values[p.Name] = int64(v)
		}
	}
	return r, nil
}

// Encode returns a function writing args in the order f declares them.
// Integer parameters take any integer type; byte parameters take []byte
// or string.
func (f *Format) Encode(args ...any) (func(protocol.OutputBuffer), error) {
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", f.Name, len(args), len(f.Params))
	}
	for i, p := range f.Params {
		var isBytes bool
		switch args[i].(type) {
		case []byte, string:
			isBytes = true
		case int, int32, uint8, uint16, uint32:
		default:
			return nil, fmt.Errorf("%s %s: unsupported argument type %T", f.Name, p.Name, args[i])
		}
		if p.isBytes() != isBytes {
			return nil, fmt.Errorf("%s %s: wrong argument type %T", f.Name, p.Name, args[i])
		}
	}
	return func(out protocol.OutputBuffer) {
		for _, a := range args {
			switch v := a.(type) {
			case []byte:
				protocol.EncodeVLQBytes(out, v)
			case string:
				protocol.EncodeVLQString(out, v)
			case int:
				protocol.EncodeVLQInt(out, int32(v))
			case int32:
				protocol.EncodeVLQInt(out, v)
			case uint8:
				protocol.EncodeVLQUint(out, uint32(v))
			case uint16:
				protocol.EncodeVLQUint(out, uint32(v))
			case uint32:
				protocol.EncodeVLQUint(out, v)
			}
		}
	}, nil
}

// NewMCU creates a new MCU instance (not yet connected). A nil logger
// discards everything.
func NewMCU(logger *zap.SugaredLogger) *MCU {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MCU{Timeout: DefaultTimeout, logger: logger}
}

// Connect connects to the firmware via serial port.
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects with a custom serial config.
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	m.Attach(port)

	// Give the firmware time to initialize if it just powered on.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach uses an already open link, such as one end of a pipe.
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true
}

// Close closes the connection.
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	var err error
	if p, ok := m.port.(serial.Port); ok {
		err = multierr.Append(err, p.Flush())
	}
	return multierr.Append(err, m.transport.Close())
}

// IsConnected returns whether the MCU is connected.
func (m *MCU) IsConnected() bool {
	return m.connected
}

// RetrieveDictionary fetches the dictionary in chunks and parses it.
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	var dictBuffer bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.sendIdentify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))
		m.logger.Debugw("dictionary chunk", "offset", offset)
		if len(chunk) < identifyChunk {
			break
		}
	}
	m.dictionaryData = dictBuffer.Bytes()

	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	if err := dict.index(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	m.dictionary = dict
	m.logger.Infow("dictionary retrieved",
		"bytes", len(m.dictionaryData),
		"version", dict.Version,
		"commands", len(dict.Commands),
		"responses", len(dict.Responses))
	return nil
}

// sendIdentify works before the dictionary is known: identify and its
// response have fixed ids.
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyCmdID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, err
	}

	for {
		resp, err := m.transport.ReceiveResponse(m.Timeout)
		if err != nil {
			return nil, err
		}
		payload := resp.Payload
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if cmdID != identifyResponseID {
			continue
		}
		respOffset, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if respOffset != offset {
			return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
		}
		return protocol.DecodeVLQBytes(&payload)
	}
}

// GetDictionary returns the parsed dictionary.
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data.
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary writes a summary of the dictionary to w.
func (m *MCU) PrintDictionary(w io.Writer) {
	d := m.dictionary
	if d == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}
	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build: %s\n", d.BuildVersions)

	fmt.Fprintln(w, "\nConfig:")
	for _, k := range sortedKeys(d.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}
	printIDs(w, "Commands", d.Commands)
	printIDs(w, "Responses", d.Responses)
	for _, name := range sortedKeys(d.Enumerations) {
		fmt.Fprintf(w, "\nEnumeration %s: %d values\n", name, len(d.Enumerations[name]))
	}
}

func printIDs(w io.Writer, title string, ids map[string]int) {
	sigs := sortedKeys(ids)
	sort.SliceStable(sigs, func(i, j int) bool { return ids[sigs[i]] < ids[sigs[j]] })
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(ids))
	for _, sig := range sigs {
		fmt.Fprintf(w, "  [%d] %s\n", ids[sig], sig)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MCU) format(name string) (*Format, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	f, ok := m.dictionary.Command(name)
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	return f, nil
}

// SendCommand sends a command whose arguments args writes directly.
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	f, err := m.format(name)
	if err != nil {
		return err
	}
	return m.transport.SendCommand(f.ID, args)
}

// Send encodes args by the command's declared format and sends it. It
// returns once the firmware has acknowledged the block.
func (m *MCU) Send(name string, args ...any) error {
	f, err := m.format(name)
	if err != nil {
		return err
	}
	enc, err := f.Encode(args...)
	if err != nil {
		return err
	}
	m.logger.Debugw("send", "cmd", name, "args", args)
	return m.transport.SendCommand(f.ID, enc)
}

// WaitResponse returns the first response accept takes. Other responses
// are logged and dropped.
func (m *MCU) WaitResponse(accept func(*Response) bool) (*Response, error) {
	deadline := time.Now().Add(m.Timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("no response after %v", m.Timeout)
		}
		msg, err := m.transport.ReceiveResponse(left)
		if err != nil {
			return nil, err
		}
		if r, ok := m.decode(msg.Payload); ok && accept(r) {
			return r, nil
		}
	}
}

// queued returns an already received response accept takes, without
// waiting.
func (m *MCU) queued(accept func(*Response) bool) (*Response, bool) {
	for {
		msg, ok := m.transport.PollResponse()
		if !ok {
			return nil, false
		}
		if r, ok := m.decode(msg.Payload); ok && accept(r) {
			return r, true
		}
	}
}

func (m *MCU) decode(payload []byte) (*Response, bool) {
	r, err := m.dictionary.DecodeResponse(payload)
	if err != nil {
		m.logger.Warnw("undecodable response", "error", err)
		return nil, false
	}
	m.logger.Debugw("response", "name", r.Name, "values", r.Values)
	return r, true
}

// Query sends a command and waits for the named response.
func (m *MCU) Query(response string, name string, args ...any) (*Response, error) {
	if err := m.Send(name, args...); err != nil {
		return nil, err
	}
	return m.WaitResponse(func(r *Response) bool { return r.Name == response })
}

// Status is the firmware's view of its own configuration.
type Status struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
	MoveCount  uint16
}

// GetConfig queries the firmware's configuration state.
func (m *MCU) GetConfig() (Status, error) {
	r, err := m.Query("config", "get_config")
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsConfig:   r.Values["is_config"] != 0,
		CRC:        uint32(r.Values["crc"]),
		IsShutdown: r.Values["is_shutdown"] != 0,
		MoveCount:  uint16(r.Values["move_count"]),
	}, nil
}

// GetClock returns the firmware's clock counter.
func (m *MCU) GetClock() (uint32, error) {
	r, err := m.Query("clock", "get_clock")
	if err != nil {
		return 0, err
	}
	return uint32(r.Values["clock"]), nil
}
