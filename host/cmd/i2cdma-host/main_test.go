package main

import (
	"bytes"
	"testing"

	"go.viam.com/test"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"i2cdma-host"}, args...))
	return out.String(), err
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		args []string
		want []byte
	}{
		{[]string{"10cafe"}, []byte{0x10, 0xca, 0xfe}},
		{[]string{"10", "ca", "fe"}, []byte{0x10, 0xca, 0xfe}},
		{[]string{"0x10 0xCA", "0xf"}, []byte{0x10, 0xca, 0x0f}},
	}
	for _, tc := range tests {
		got, err := parseHex(tc.args)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, tc.want)
	}
	_, err := parseHex([]string{"zz"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTimingCommand(t *testing.T) {
	out, err := run(t, "timing", "--rate", "100000", "--mode", "sm")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "CCR    210\n")
	test.That(t, out, test.ShouldContainSubstring, "TRISE  43\n")

	_, err = run(t, "timing", "--pclk", "42500000")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = run(t, "timing", "--mode", "sm", "--rate", "2147483648")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = run(t, "timing", "--rate", "4294967296")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoopbackCommands(t *testing.T) {
	_, err := run(t, "--loopback", "write", "-a", "0x50", "20", "01020304")
	test.That(t, err, test.ShouldBeNil)

	out, err := run(t, "--loopback", "xfer", "-a", "0x50", "--len", "2", "00")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "ok 0000\n")

	_, err = run(t, "--loopback", "read", "-a", "0x51", "00")
	test.That(t, err, test.ShouldNotBeNil)

	out, err = run(t, "--loopback", "dict")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "i2c_set_bus oid=%c i2c_bus=%u rate=%u address=%u")
}

func TestSimCommand(t *testing.T) {
	out, err := run(t, "--loopback", "sim")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "read     ok deadbeef\n")
	test.That(t, out, test.ShouldContainSubstring, "START ADDR 0x50 W ACK W 0x00 ACK W 0xde ACK")
	test.That(t, out, test.ShouldContainSubstring, "absent   i2c oid 1: no device (read)")
}
