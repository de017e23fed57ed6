package core

import (
	"errors"
	"strconv"
	"sync"
)

// CommandHandler decodes its own arguments from the front of *data.
type CommandHandler func(data *[]byte) error

// Command is one dictionary entry. Responses (firmware to host) have a nil
// Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "oid=%c data=%*s"
	Handler CommandHandler
}

// Signature is the dictionary key: name and format.
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns IDs in registration order. The host learns them
// from the dictionary, so the order only matters for the bootstrap pair.
type CommandRegistry struct {
	mu     sync.RWMutex
	byID   []*Command
	byName map[string]*Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byName: make(map[string]*Command)}
}

// Register adds a command and returns its ID. Registering a name twice
// returns the first ID.
func (r *CommandRegistry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[name]; ok {
		return c.ID
	}
	c := &Command{ID: uint16(len(r.byID)), Name: name, Format: format, Handler: handler}
	r.byID = append(r.byID, c)
	r.byName[name] = c
	return c.ID
}

// RegisterResponse adds a firmware to host message.
func (r *CommandRegistry) RegisterResponse(name, format string) uint16 {
	return r.Register(name, format, nil)
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Dispatch runs the handler for id.
func (r *CommandRegistry) Dispatch(id uint16, data *[]byte) error {
	c, ok := r.GetCommand(id)
	if !ok {
		return errors.New("unknown command ID: " + strconv.Itoa(int(id)))
	}
	if c.Handler == nil {
		return errors.New("not a command: " + c.Name)
	}
	return c.Handler(data)
}

// GetCommandsAndResponses splits the registry into the two dictionary maps,
// keyed by signature.
func (r *CommandRegistry) GetCommandsAndResponses() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commands = make(map[string]int)
	responses = make(map[string]int)
	for _, c := range r.byID {
		if c.Handler != nil {
			commands[c.Signature()] = int(c.ID)
		} else {
			responses[c.Signature()] = int(c.ID)
		}
	}
	return commands, responses
}
