package test

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/goburrow/modbus"
)

const (
	responderTCPPort = 33502
	unitID           = 1
)

// TestMain builds the test environment: it writes a config plus a
// register-definition file and starts the responder binary, which must
// have been compiled beforehand.
func TestMain(m *testing.M) {
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get current working directory: %v", err)
	}
	binaryPath := filepath.Join(cwd, "..", "go-modbus")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		log.Fatalf("responder binary not found: %s. Build the project first.", binaryPath)
	}

	registersContent := `{
	"COILS": {
		"TEST_COILS": {"register": 0, "len": 100}
	},
	"ISTS": {
		"TEST_ISTS": {"register": 0, "len": 16, "val": [1, 0, 1, 1]}
	},
	"HREGS": {
		"TEST_HREGS": {"register": 0, "len": 100, "val": [12345, 54321]}
	},
	"IREGS": {
		"TEST_IREGS": {"register": 0, "len": 8, "val": [65534, 2]}
	}
}`
	registersFile := filepath.Join(cwd, "test_registers.json")
	if err := os.WriteFile(registersFile, []byte(registersContent), 0644); err != nil {
		log.Fatalf("failed to write register definitions: %v", err)
	}
	defer os.Remove(registersFile)

	configContent := fmt.Sprintf(`
server:
  units: "%d"
  registers: "%s"
  listeners:
    - type: tcp
      tcp:
        address: "0.0.0.0:%d"
log:
  level: "debug"
`, unitID, registersFile, responderTCPPort)

	configFile := filepath.Join(cwd, "test_config.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		log.Fatalf("failed to write config file: %v", err)
	}
	defer os.Remove(configFile)

	cmd := exec.Command(binaryPath, "-config", configFile)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Fatalf("failed to start responder: %v", err)
	}
	log.Printf("responder started (PID: %d) with config %s", cmd.Process.Pid, configFile)

	// allow startup time
	time.Sleep(time.Second)

	exitCode := m.Run()

	if err := cmd.Process.Kill(); err != nil {
		log.Printf("failed to stop responder: %v", err)
	}
	cmd.Wait()

	os.Exit(exitCode)
}

// newTCPClient connects a fresh Modbus TCP client to the responder.
func newTCPClient(t *testing.T) modbus.Client {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("127.0.0.1:%d", responderTCPPort))
	handler.Timeout = 5 * time.Second
	handler.SlaveId = unitID

	if err := handler.Connect(); err != nil {
		t.Fatalf("failed to connect to responder: %v", err)
	}
	t.Cleanup(func() {
		handler.Close()
	})

	return modbus.NewClient(handler)
}

func TestReadHoldingRegisters(t *testing.T) {
	client := newTCPClient(t)

	results, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("failed to read holding registers: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(results))
	}

	val1 := uint16(results[0])<<8 | uint16(results[1])
	val2 := uint16(results[2])<<8 | uint16(results[3])
	if val1 != 12345 {
		t.Errorf("register 0 = %d, want 12345", val1)
	}
	if val2 != 54321 {
		t.Errorf("register 1 = %d, want 54321", val2)
	}
}

func TestReadInputRegisters(t *testing.T) {
	client := newTCPClient(t)

	results, err := client.ReadInputRegisters(0, 2)
	if err != nil {
		t.Fatalf("failed to read input registers: %v", err)
	}
	val1 := uint16(results[0])<<8 | uint16(results[1])
	val2 := uint16(results[2])<<8 | uint16(results[3])
	if val1 != 65534 || val2 != 2 {
		t.Errorf("input registers = %d, %d, want 65534, 2", val1, val2)
	}
}

func TestReadDiscreteInputs(t *testing.T) {
	client := newTCPClient(t)

	results, err := client.ReadDiscreteInputs(0, 4)
	if err != nil {
		t.Fatalf("failed to read discrete inputs: %v", err)
	}
	// 1,0,1,1 packed LSB-first is 0x0D
	if len(results) != 1 || results[0] != 0x0D {
		t.Errorf("discrete inputs = %X, want 0D", results)
	}
}

func TestWriteAndReadSingleRegister(t *testing.T) {
	client := newTCPClient(t)
	const addr = 10
	const valueToWrite uint16 = 0xABCD

	if _, err := client.WriteSingleRegister(addr, valueToWrite); err != nil {
		t.Fatalf("failed to write single register: %v", err)
	}

	results, err := client.ReadHoldingRegisters(addr, 1)
	if err != nil {
		t.Fatalf("failed to read back register: %v", err)
	}
	readValue := uint16(results[0])<<8 | uint16(results[1])
	if readValue != valueToWrite {
		t.Errorf("read back %#x, want %#x", readValue, valueToWrite)
	}
}

func TestWriteAndReadCoils(t *testing.T) {
	client := newTCPClient(t)

	if _, err := client.WriteSingleCoil(5, 0xFF00); err != nil {
		t.Fatalf("failed to write single coil: %v", err)
	}

	// 0F: coils 20..27 to 1100 1101
	if _, err := client.WriteMultipleCoils(20, 8, []byte{0xCD}); err != nil {
		t.Fatalf("failed to write multiple coils: %v", err)
	}

	results, err := client.ReadCoils(5, 1)
	if err != nil {
		t.Fatalf("failed to read coil: %v", err)
	}
	if results[0]&0x01 != 1 {
		t.Errorf("coil 5 not set: %X", results)
	}

	results, err = client.ReadCoils(20, 8)
	if err != nil {
		t.Fatalf("failed to read coils: %v", err)
	}
	if results[0] != 0xCD {
		t.Errorf("coils 20..27 = %X, want CD", results)
	}
}

func TestWriteAndReadMultipleRegisters(t *testing.T) {
	client := newTCPClient(t)

	if _, err := client.WriteMultipleRegisters(50, 2, []byte{0x01, 0x02, 0x03, 0x04}); err != nil {
		t.Fatalf("failed to write multiple registers: %v", err)
	}

	results, err := client.ReadHoldingRegisters(50, 2)
	if err != nil {
		t.Fatalf("failed to read back registers: %v", err)
	}
	if results[0] != 0x01 || results[1] != 0x02 || results[2] != 0x03 || results[3] != 0x04 {
		t.Errorf("registers = %X", results)
	}
}

func TestIllegalDataAddress(t *testing.T) {
	client := newTCPClient(t)

	// address 5000 is not registered; the responder must answer with
	// exception code 02 rather than closing the connection
	_, err := client.ReadHoldingRegisters(5000, 1)
	if err == nil {
		t.Fatal("expected exception for unregistered address")
	}
	mbErr, ok := err.(*modbus.ModbusError)
	if !ok {
		t.Fatalf("err = %v (%T), want ModbusError", err, err)
	}
	if mbErr.ExceptionCode != 2 {
		t.Errorf("exception code = %d, want 2", mbErr.ExceptionCode)
	}

	// the connection survives the exception
	if _, err := client.ReadHoldingRegisters(0, 1); err != nil {
		t.Errorf("read after exception failed: %v", err)
	}
}

func TestIllegalFunction(t *testing.T) {
	client := newTCPClient(t)

	// 0x16 mask write register is not implemented
	_, err := client.MaskWriteRegister(0, 0xFFFF, 0x0000)
	if err == nil {
		t.Fatal("expected exception for unsupported function")
	}
	mbErr, ok := err.(*modbus.ModbusError)
	if !ok {
		t.Fatalf("err = %v (%T), want ModbusError", err, err)
	}
	if mbErr.ExceptionCode != 1 {
		t.Errorf("exception code = %d, want 1", mbErr.ExceptionCode)
	}
}
