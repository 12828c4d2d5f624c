// Package elfinspect performs a best-effort scan of the confined program
// before exec, looking for raw SYSCALL instructions in its text section.
// Direct syscalls bypass libc and are the first thing a restrictive seccomp
// profile kills, so the launcher logs where they are instead of leaving the
// user with a bare SIGSYS later. Inspection is advisory: any failure to
// inspect produces a skipped report, never an error that blocks the launch.
package elfinspect

import (
	"debug/elf"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// x86_64BitMode is the bit width for 64-bit mode decoding.
	x86_64BitMode = 64

	// maxReportedSites caps how many syscall sites are recorded; the
	// count keeps climbing past the cap so logs stay bounded without
	// losing the magnitude.
	maxReportedSites = 32
)

// RawSyscall is one direct SYSCALL instruction found in the program text.
type RawSyscall struct {
	// Addr is the virtual address of the instruction.
	Addr uint64
}

// Report is the result of inspecting one binary.
type Report struct {
	// Skipped is true when the binary could not be usefully inspected
	// (not an ELF, not x86-64, no text section). Reason says why.
	Skipped bool
	Reason  string

	// SyscallCount is the total number of raw SYSCALL instructions.
	SyscallCount int
	// Sites holds up to maxReportedSites of their addresses.
	Sites []RawSyscall
}

// Inspect scans the ELF binary at path for raw SYSCALL instructions.
func Inspect(path string) (*Report, error) {
	f, err := elf.Open(path)
	if err != nil {
		return &Report{Skipped: true, Reason: fmt.Sprintf("not inspectable as ELF: %v", err)}, nil
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return &Report{Skipped: true, Reason: fmt.Sprintf("unsupported machine %s", f.Machine)}, nil
	}

	text := f.Section(".text")
	if text == nil {
		return &Report{Skipped: true, Reason: "no .text section"}, nil
	}

	code, err := text.Data()
	if err != nil {
		return &Report{Skipped: true, Reason: fmt.Sprintf("cannot read .text: %v", err)}, nil
	}

	return scanText(code, text.Addr), nil
}

// scanText decodes the code linearly. Decode failures advance a single byte
// so data islands inside the text section cannot derail the scan.
func scanText(code []byte, base uint64) *Report {
	report := &Report{}

	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], x86_64BitMode)
		if err != nil || inst.Len == 0 {
			offset++
			continue
		}

		if inst.Op == x86asm.SYSCALL {
			report.SyscallCount++
			if len(report.Sites) < maxReportedSites {
				report.Sites = append(report.Sites, RawSyscall{Addr: base + uint64(offset)})
			}
		}
		offset += inst.Len
	}

	return report
}
