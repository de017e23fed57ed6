package core

import (
	"encoding/json"
	"strconv"
	"sync"
)

// Dictionary describes the firmware to the host: versions, constants,
// enumerations, and the command and response IDs. The host reads it in
// chunks with identify.
type Dictionary struct {
	mu            sync.RWMutex
	reg           *CommandRegistry
	version       string
	buildVersions string
	constants     map[string]string
	enumerations  map[string]map[string]int
	cached        []byte
}

func NewDictionary(reg *CommandRegistry) *Dictionary {
	return &Dictionary{
		reg:           reg,
		version:       "dmai2c-0.1.0",
		buildVersions: "go",
		constants:     make(map[string]string),
		enumerations:  make(map[string]map[string]int),
	}
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	d.version = version
	d.cached = nil
	d.mu.Unlock()
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	d.buildVersions = versions
	d.cached = nil
	d.mu.Unlock()
}

// AddConstant records a constant. Values are sent as strings.
func (d *Dictionary) AddConstant(name string, value any) {
	d.mu.Lock()
	d.constants[name] = constString(value)
	d.cached = nil
	d.mu.Unlock()
}

// AddEnumeration maps each non-empty value to its index.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	e := make(map[string]int, len(values))
	for i, v := range values {
		if v != "" {
			e[v] = i
		}
	}
	d.mu.Lock()
	d.enumerations[name] = e
	d.cached = nil
	d.mu.Unlock()
}

type dictJSON struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// Build serializes the dictionary. Call it once every command is
// registered; later registrations need another Build.
func (d *Dictionary) Build() []byte {
	// Registry lock is taken before ours, never inside it.
	commands, responses := d.reg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := json.Marshal(dictJSON{
		Version:       d.version,
		BuildVersions: d.buildVersions,
		Config:        d.constants,
		Commands:      commands,
		Responses:     responses,
		Enumerations:  d.enumerations,
	})
	if err != nil {
		// Only strings and ints go in; Marshal cannot fail.
		panic(err)
	}
	d.cached = data
	return data
}

// Bytes returns the serialized dictionary, building it on first use.
func (d *Dictionary) Bytes() []byte {
	d.mu.RLock()
	data := d.cached
	d.mu.RUnlock()
	if data == nil {
		data = d.Build()
	}
	return data
}

// GetChunk returns up to count bytes starting at offset. Past the end it
// returns an empty chunk, which ends the host's identify loop.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Bytes()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := min(offset+uint32(count), uint32(len(data)))
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

func constString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		if x {
			return "1"
		}
		return "0"
	}
	return ""
}
