/*
Copyright 2024 The tinykernel Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package elf

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Thumb-2 relocation type numbers, per the ARM ELF ABI (spec.md §4.4
// lists exactly these five as supported).
const (
	R_ARM_ABS32             = 2
	R_ARM_REL32             = 3
	R_ARM_THM_PC22          = 10 // == R_ARM_THM_CALL
	R_ARM_THM_JUMP24        = 30
	R_ARM_THM_ALU_ABS_G0_NC = 102
)

// RelocSkip records an out-of-range or misaligned relocation that was
// skipped and reported rather than aborting the whole load, per
// spec.md's THM_JUMP24/ALU_ABS_G0_NC handling.
type RelocSkip struct {
	Offset uint64
	Type   uint32
	Reason string
}

func (r RelocSkip) String() string {
	return fmt.Sprintf("reloc at 0x%x (type %d) skipped: %s", r.Offset, r.Type, r.Reason)
}

// applyRelocation patches one relocation site within dst (the loaded
// section's backing bytes), given the resolved symbol value and the
// runtime address of the site itself (siteAddr = sectionBase+offset).
// addend is the ELF rela addend, or 0 for REL-style relocations where
// the addend lives in the existing bytes at the site.
func applyRelocation(dst []byte, off uint64, relType uint32, symValue uint32, addend int64, siteAddr uint32) (*RelocSkip, error) {
	switch relType {
	case R_ARM_ABS32:
		cur := binary.LittleEndian.Uint32(dst[off : off+4])
		binary.LittleEndian.PutUint32(dst[off:off+4], cur+symValue+uint32(addend))
		return nil, nil

	case R_ARM_REL32:
		cur := int64(binary.LittleEndian.Uint32(dst[off : off+4]))
		val := int64(symValue) + addend + cur - int64(siteAddr)
		binary.LittleEndian.PutUint32(dst[off:off+4], uint32(val))
		return nil, nil

	case R_ARM_THM_PC22:
		return applyThumbCall(dst, off, symValue, siteAddr, false)

	case R_ARM_THM_JUMP24:
		return applyThumbCall(dst, off, symValue, siteAddr, true)

	case R_ARM_THM_ALU_ABS_G0_NC:
		if off%2 != 0 {
			return &RelocSkip{Offset: off, Type: relType, Reason: "misaligned MOVW site"}, nil
		}
		imm16 := uint32(symValue+uint32(addend)) & 0xFFFF
		patchMovwImm16(dst, off, imm16)
		return nil, nil

	default:
		return nil, fmt.Errorf("elf: unsupported relocation type %d", relType)
	}
}

// applyThumbCall encodes a signed branch offset into a 32-bit Thumb-2
// BL (THM_PC22/THM_CALL) or B.W (THM_JUMP24) instruction pair using
// the S/I1/I2/imm10/imm11 split with the J1/J2 XOR convention. Offset
// is relative to site+4 (pipeline effect). jumpRange marks a B.W site:
// it selects the B.W opcode bits and enables the ±16 MB range check
// (BL sites are not range-checked); both instructions share the same
// immediate layout.
func applyThumbCall(dst []byte, off uint64, symValue uint32, siteAddr uint32, jumpRange bool) (*RelocSkip, error) {
	if off+4 > uint64(len(dst)) {
		return nil, fmt.Errorf("elf: relocation site out of section bounds")
	}
	hw1 := binary.LittleEndian.Uint16(dst[off : off+2])
	hw2 := binary.LittleEndian.Uint16(dst[off+2 : off+4])

	offset := int64(symValue) - int64(siteAddr+4)

	const maxRange = 1 << 24 // +-16MB window for a 25-bit signed offset (bit0 implicit 0)
	if jumpRange && (offset >= maxRange || offset < -maxRange) {
		return &RelocSkip{Offset: off, Type: R_ARM_THM_JUMP24, Reason: "branch target out of range"}, nil
	}
	if offset%2 != 0 {
		return &RelocSkip{Offset: off, Type: R_ARM_THM_PC22, Reason: "odd branch target"}, nil
	}

	s := uint32(0)
	if offset < 0 {
		s = 1
	}
	uoff := uint32(offset)
	imm11 := (uoff >> 1) & 0x7FF
	imm10 := (uoff >> 12) & 0x3FF
	i1 := (uoff >> 23) & 1
	i2 := (uoff >> 22) & 1
	j1 := (i1 ^ s) ^ 1
	j2 := (i2 ^ s) ^ 1

	op2 := uint16(0xD000) // BL second halfword: 11 J1 1 J2
	if jumpRange {
		op2 = 0x9000 // B.W second halfword: 10 J1 1 J2
	}
	hw1 = (hw1 &^ 0x07FF) | uint16(0xF000) | uint16(s<<10) | uint16(imm10)
	hw2 = (hw2 &^ 0x6FFF) | op2 | uint16(j1<<13) | uint16(j2<<11) | uint16(imm11)

	binary.LittleEndian.PutUint16(dst[off:off+2], hw1)
	binary.LittleEndian.PutUint16(dst[off+2:off+4], hw2)
	return nil, nil
}

// patchMovwImm16 writes a 16-bit immediate into a Thumb-2 MOVW
// instruction pair, which splits it as imm4:i:imm3:imm8.
func patchMovwImm16(dst []byte, off uint64, imm16 uint32) {
	hw1 := binary.LittleEndian.Uint16(dst[off : off+2])
	hw2 := binary.LittleEndian.Uint16(dst[off+2 : off+4])

	imm8 := imm16 & 0xFF
	imm3 := (imm16 >> 8) & 0x7
	i := (imm16 >> 11) & 1
	imm4 := (imm16 >> 12) & 0xF

	hw1 = (hw1 &^ 0x040F) | uint16(i<<10) | uint16(imm4)
	hw2 = (hw2 &^ 0x70FF) | uint16(imm3<<12) | uint16(imm8)

	binary.LittleEndian.PutUint16(dst[off:off+2], hw1)
	binary.LittleEndian.PutUint16(dst[off+2:off+4], hw2)
}

// relEntry is a normalized relocation table entry, independent of
// whether the section used SHT_REL or SHT_RELA.
type relEntry struct {
	Offset  uint64
	SymIdx  uint32
	Type    uint32
	Addend  int64
	IsRela  bool
}

func decodeRelocations(sec *elf.Section) ([]relEntry, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	switch sec.Type {
	case elf.SHT_REL:
		return decodeRelocationEntries(data, false), nil
	case elf.SHT_RELA:
		return decodeRelocationEntries(data, true), nil
	default:
		return nil, fmt.Errorf("elf: section is not a relocation section")
	}
}

// decodeRelocationEntries parses a raw SHT_REL/SHT_RELA section body
// into normalized entries; split out from decodeRelocations so the
// byte-layout logic is testable without a backing *elf.Section.
func decodeRelocationEntries(data []byte, isRela bool) []relEntry {
	var out []relEntry
	if isRela {
		for off := 0; off+12 <= len(data); off += 12 {
			r := binary.LittleEndian.Uint32(data[off+4:])
			out = append(out, relEntry{
				Offset: uint64(binary.LittleEndian.Uint32(data[off:])),
				SymIdx: r >> 8,
				Type:   r & 0xFF,
				Addend: int64(int32(binary.LittleEndian.Uint32(data[off+8:]))),
				IsRela: true,
			})
		}
		return out
	}
	for off := 0; off+8 <= len(data); off += 8 {
		r := binary.LittleEndian.Uint32(data[off+4:])
		out = append(out, relEntry{
			Offset: uint64(binary.LittleEndian.Uint32(data[off:])),
			SymIdx: r >> 8,
			Type:   r & 0xFF,
		})
	}
	return out
}
