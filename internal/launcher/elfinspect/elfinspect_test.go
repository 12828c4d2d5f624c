package elfinspect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanText_FindsSyscallInstructions(t *testing.T) {
	// mov eax, 60; syscall; xor eax, eax; syscall
	code := []byte{
		0xb8, 0x3c, 0x00, 0x00, 0x00, // MOV EAX, 60
		0x0f, 0x05, // SYSCALL
		0x31, 0xc0, // XOR EAX, EAX
		0x0f, 0x05, // SYSCALL
	}

	report := scanText(code, 0x401000)
	assert.Equal(t, 2, report.SyscallCount)
	require.Len(t, report.Sites, 2)
	assert.Equal(t, uint64(0x401005), report.Sites[0].Addr)
	assert.Equal(t, uint64(0x401009), report.Sites[1].Addr)
}

func TestScanText_NoSyscalls(t *testing.T) {
	code := []byte{
		0x55,             // PUSH RBP
		0x48, 0x89, 0xe5, // MOV RBP, RSP
		0x5d, // POP RBP
		0xc3, // RET
	}

	report := scanText(code, 0x1000)
	assert.Zero(t, report.SyscallCount)
	assert.Empty(t, report.Sites)
}

func TestScanText_RecoversFromUndecodableBytes(t *testing.T) {
	// Garbage bytes followed by a syscall; the scan must step over the
	// garbage one byte at a time and still find the instruction.
	code := append([]byte{0x06, 0x07, 0x0e}, 0x0f, 0x05)

	report := scanText(code, 0)
	assert.Equal(t, 1, report.SyscallCount)
}

func TestScanText_CapsReportedSites(t *testing.T) {
	var code []byte
	for i := 0; i < maxReportedSites+10; i++ {
		code = append(code, 0x0f, 0x05)
	}

	report := scanText(code, 0)
	assert.Equal(t, maxReportedSites+10, report.SyscallCount, "the count keeps climbing past the cap")
	assert.Len(t, report.Sites, maxReportedSites)
}

func TestInspect_NonELFIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

	report, err := Inspect(path)
	require.NoError(t, err, "inspection failures must never block the launch")
	assert.True(t, report.Skipped)
	assert.NotEmpty(t, report.Reason)
}

func TestInspect_MissingFileIsSkipped(t *testing.T) {
	report, err := Inspect(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.True(t, report.Skipped)
}
