package core

import (
	"testing"

	"dmai2c/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	id := registry.Register("test_command", "arg=%u", func(data *[]byte) error {
		called = true
		return nil
	})
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok || cmd.Name != "test_command" {
		t.Fatalf("GetCommand(%d) = %v, %v", id, cmd, ok)
	}
	if cmd.Signature() != "test_command arg=%u" {
		t.Errorf("Signature: got %q", cmd.Signature())
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}
	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryIDs(t *testing.T) {
	registry := NewCommandRegistry()
	nop := func(data *[]byte) error { return nil }

	id1 := registry.Register("command1", "arg1=%u", nop)
	id2 := registry.RegisterResponse("response1", "val=%u")
	id3 := registry.Register("command2", "", nop)
	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("IDs not sequential: %d, %d, %d", id1, id2, id3)
	}
	if again := registry.Register("command1", "other=%u", nop); again != id1 {
		t.Errorf("re-registering returned %d, want %d", again, id1)
	}
	if registry.Count() != 3 {
		t.Errorf("Count: got %d", registry.Count())
	}

	// A response cannot be dispatched.
	var data []byte
	if err := registry.Dispatch(id2, &data); err == nil {
		t.Error("dispatching a response should fail")
	}

	commands, responses := registry.GetCommandsAndResponses()
	if commands["command1 arg1=%u"] != 0 || commands["command2"] != 2 || len(commands) != 2 {
		t.Errorf("commands: %v", commands)
	}
	if responses["response1 val=%u"] != 1 || len(responses) != 1 {
		t.Errorf("responses: %v", responses)
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var got []uint32
	id := registry.Register("test_args", "a=%u b=%i", func(data *[]byte) error {
		args, err := decodeArgs(data, 2)
		got = args
		return err
	})

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, 12345)
	protocol.EncodeVLQUint(out, 7)
	data := out.Result()
	if err := registry.Dispatch(id, &data); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(got) != 2 || got[0] != 12345 || got[1] != 7 {
		t.Errorf("arguments: got %v", got)
	}
	if len(data) != 0 {
		t.Errorf("%d argument bytes left", len(data))
	}

	data = []byte{0x81}
	if err := registry.Dispatch(id, &data); err == nil {
		t.Error("truncated arguments should fail")
	}
}
