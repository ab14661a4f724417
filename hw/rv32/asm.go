//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package rv32

import (
	"encoding/binary"
)

// Program assembles RV32I instructions into a flat little endian binary.
// Branch and jump offsets are in bytes relative to the instruction.
type Program struct {
	words []uint32
}

// PC returns the offset of the next instruction.
func (p *Program) PC() int32 { return int32(len(p.words) * 4) }

func (p *Program) emit(w uint32) *Program {
	p.words = append(p.words, w)
	return p
}

// Bytes returns the assembled binary.
func (p *Program) Bytes() []byte {
	b := make([]byte, len(p.words)*4)
	for i, w := range p.words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func encI(op, rd, f3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(op, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1f)<<7 | op
}

func encB(f3, rs1, rs2 uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | f3<<12 |
		(u>>1&0xf)<<8 | (u>>11&1)<<7 | opBranch
}

func encJ(rd uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | opJAL
}

func encR(f7, rs2, rs1, f3, rd uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | opReg
}

func (p *Program) ADDI(rd, rs1 uint32, imm int32) *Program {
	return p.emit(encI(opImm, rd, 0, rs1, imm))
}

func (p *Program) ANDI(rd, rs1 uint32, imm int32) *Program {
	return p.emit(encI(opImm, rd, 7, rs1, imm))
}

func (p *Program) XORI(rd, rs1 uint32, imm int32) *Program {
	return p.emit(encI(opImm, rd, 4, rs1, imm))
}

func (p *Program) SLLI(rd, rs1 uint32, shamt uint32) *Program {
	return p.emit(encI(opImm, rd, 1, rs1, int32(shamt&0x1f)))
}

func (p *Program) SRLI(rd, rs1 uint32, shamt uint32) *Program {
	return p.emit(encI(opImm, rd, 5, rs1, int32(shamt&0x1f)))
}

func (p *Program) SRAI(rd, rs1 uint32, shamt uint32) *Program {
	return p.emit(encI(opImm, rd, 5, rs1, int32(0x400|shamt&0x1f)))
}

func (p *Program) ADD(rd, rs1, rs2 uint32) *Program { return p.emit(encR(0, rs2, rs1, 0, rd)) }

func (p *Program) SUB(rd, rs1, rs2 uint32) *Program { return p.emit(encR(0x20, rs2, rs1, 0, rd)) }

func (p *Program) SLTU(rd, rs1, rs2 uint32) *Program { return p.emit(encR(0, rs2, rs1, 3, rd)) }

func (p *Program) LUI(rd uint32, imm uint32) *Program {
	return p.emit(imm&0xfffff000 | rd<<7 | opLUI)
}

func (p *Program) AUIPC(rd uint32, imm uint32) *Program {
	return p.emit(imm&0xfffff000 | rd<<7 | opAUIPC)
}

// LI loads a 32-bit constant using LUI+ADDI (or ADDI alone when it fits).
func (p *Program) LI(rd uint32, v uint32) *Program {
	lo := int32(v<<20) >> 20
	hi := v - uint32(lo)
	if hi == 0 {
		return p.ADDI(rd, Zero, lo)
	}
	p.LUI(rd, hi)
	if lo != 0 {
		p.ADDI(rd, rd, lo)
	}
	return p
}

func (p *Program) LW(rd, rs1 uint32, off int32) *Program {
	return p.emit(encI(opLoad, rd, 2, rs1, off))
}

func (p *Program) LBU(rd, rs1 uint32, off int32) *Program {
	return p.emit(encI(opLoad, rd, 4, rs1, off))
}

func (p *Program) LB(rd, rs1 uint32, off int32) *Program {
	return p.emit(encI(opLoad, rd, 0, rs1, off))
}

func (p *Program) SW(rs2, rs1 uint32, off int32) *Program {
	return p.emit(encS(opStore, 2, rs1, rs2, off))
}

func (p *Program) SB(rs2, rs1 uint32, off int32) *Program {
	return p.emit(encS(opStore, 0, rs1, rs2, off))
}

func (p *Program) BEQ(rs1, rs2 uint32, off int32) *Program { return p.emit(encB(0, rs1, rs2, off)) }

func (p *Program) BNE(rs1, rs2 uint32, off int32) *Program { return p.emit(encB(1, rs1, rs2, off)) }

func (p *Program) BLT(rs1, rs2 uint32, off int32) *Program { return p.emit(encB(4, rs1, rs2, off)) }

func (p *Program) BGEU(rs1, rs2 uint32, off int32) *Program { return p.emit(encB(7, rs1, rs2, off)) }

func (p *Program) JAL(rd uint32, off int32) *Program { return p.emit(encJ(rd, off)) }

func (p *Program) JALR(rd, rs1 uint32, off int32) *Program {
	return p.emit(encI(opJALR, rd, 0, rs1, off))
}

// J jumps by off bytes.
func (p *Program) J(off int32) *Program { return p.JAL(Zero, off) }

// RET returns to ra.
func (p *Program) RET() *Program { return p.JALR(Zero, RA, 0) }

func (p *Program) NOP() *Program { return p.ADDI(Zero, Zero, 0) }

func (p *Program) ECALL() *Program { return p.emit(opSystem) }

// Word emits a raw 32-bit word.
func (p *Program) Word(w uint32) *Program { return p.emit(w) }
