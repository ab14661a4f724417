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
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// ABI register numbers.
const (
	Zero = 0
	RA   = 1
	SP   = 2
	GP   = 3
	TP   = 4
	T0   = 5
	T1   = 6
	T2   = 7
	S0   = 8
	S1   = 9
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A4   = 14
	A5   = 15
	A6   = 16
	A7   = 17
	S2   = 18
	T3   = 28
	T6   = 31
)

// Opcodes
const (
	opLoad   = 0x03
	opFence  = 0x0f
	opImm    = 0x13
	opAUIPC  = 0x17
	opStore  = 0x23
	opReg    = 0x33
	opLUI    = 0x37
	opBranch = 0x63
	opJALR   = 0x67
	opJAL    = 0x6f
	opSystem = 0x73
)

var (
	ErrIllegalInstruction = errors.New("illegal instruction")
	ErrMisaligned         = errors.New("misaligned instruction fetch")
	ErrEnvCall            = errors.New("environment call")
)

// Core is an RV32I hart: 32 integer registers and a program counter.
type Core struct {
	X  [32]uint32
	PC uint32
}

func immI(inst uint32) uint32 { return uint32(int32(inst) >> 20) }

func immS(inst uint32) uint32 {
	return uint32(int32(inst)>>25)<<5 | (inst>>7)&0x1f
}

func immB(inst uint32) uint32 {
	return uint32(int32(inst)>>31)<<12 |
		((inst>>7)&1)<<11 |
		((inst>>25)&0x3f)<<5 |
		((inst>>8)&0xf)<<1
}

func immJ(inst uint32) uint32 {
	return uint32(int32(inst)>>31)<<20 |
		((inst>>12)&0xff)<<12 |
		((inst>>20)&1)<<11 |
		((inst>>21)&0x3ff)<<1
}

// step executes one instruction.
func (c *Core) step(b *bus) error {
	pc := c.PC
	if pc&3 != 0 {
		return errors.Annotatef(ErrMisaligned, "pc 0x%08x", pc)
	}
	inst, err := b.read32(pc)
	if err != nil {
		return errors.Annotatef(err, "fetch")
	}
	rd := (inst >> 7) & 0x1f
	funct3 := (inst >> 12) & 7
	rs1 := (inst >> 15) & 0x1f
	rs2 := (inst >> 20) & 0x1f
	funct7 := inst >> 25
	x := &c.X
	next := pc + 4

	switch inst & 0x7f {
	case opLUI:
		x[rd] = inst & 0xfffff000
	case opAUIPC:
		x[rd] = pc + inst&0xfffff000
	case opJAL:
		x[rd] = next
		next = pc + immJ(inst)
	case opJALR:
		t := (x[rs1] + immI(inst)) &^ 1
		x[rd] = next
		next = t
	case opBranch:
		a, bb := x[rs1], x[rs2]
		var taken bool
		switch funct3 {
		case 0: // beq
			taken = a == bb
		case 1: // bne
			taken = a != bb
		case 4: // blt
			taken = int32(a) < int32(bb)
		case 5: // bge
			taken = int32(a) >= int32(bb)
		case 6: // bltu
			taken = a < bb
		case 7: // bgeu
			taken = a >= bb
		default:
			return c.illegal(inst)
		}
		if taken {
			next = pc + immB(inst)
		}
	case opLoad:
		addr := x[rs1] + immI(inst)
		var v uint32
		switch funct3 {
		case 0: // lb
			v, err = b.read(addr, 1)
			v = uint32(int32(int8(v)))
		case 1: // lh
			v, err = b.read(addr, 2)
			v = uint32(int32(int16(v)))
		case 2: // lw
			v, err = b.read(addr, 4)
		case 4: // lbu
			v, err = b.read(addr, 1)
		case 5: // lhu
			v, err = b.read(addr, 2)
		default:
			return c.illegal(inst)
		}
		if err != nil {
			return errors.Annotatef(err, "load at pc 0x%08x", pc)
		}
		x[rd] = v
	case opStore:
		addr := x[rs1] + immS(inst)
		switch funct3 {
		case 0:
			err = b.write(addr, 1, x[rs2])
		case 1:
			err = b.write(addr, 2, x[rs2])
		case 2:
			err = b.write(addr, 4, x[rs2])
		default:
			return c.illegal(inst)
		}
		if err != nil {
			return errors.Annotatef(err, "store at pc 0x%08x", pc)
		}
	case opImm:
		a, imm := x[rs1], immI(inst)
		shamt := rs2
		switch funct3 {
		case 0:
			x[rd] = a + imm
		case 1:
			if funct7 != 0 {
				return c.illegal(inst)
			}
			x[rd] = a << shamt
		case 2:
			x[rd] = b2u(int32(a) < int32(imm))
		case 3:
			x[rd] = b2u(a < imm)
		case 4:
			x[rd] = a ^ imm
		case 5:
			switch funct7 {
			case 0x00:
				x[rd] = a >> shamt
			case 0x20:
				x[rd] = uint32(int32(a) >> shamt)
			default:
				return c.illegal(inst)
			}
		case 6:
			x[rd] = a | imm
		case 7:
			x[rd] = a & imm
		}
	case opReg:
		a, bb := x[rs1], x[rs2]
		switch funct7<<3 | funct3 {
		case 0x000:
			x[rd] = a + bb
		case 0x100:
			x[rd] = a - bb
		case 0x001:
			x[rd] = a << (bb & 0x1f)
		case 0x002:
			x[rd] = b2u(int32(a) < int32(bb))
		case 0x003:
			x[rd] = b2u(a < bb)
		case 0x004:
			x[rd] = a ^ bb
		case 0x005:
			x[rd] = a >> (bb & 0x1f)
		case 0x105:
			x[rd] = uint32(int32(a) >> (bb & 0x1f))
		case 0x006:
			x[rd] = a | bb
		case 0x007:
			x[rd] = a & bb
		default:
			return c.illegal(inst)
		}
	case opFence:
	case opSystem:
		return errors.Annotatef(ErrEnvCall, "0x%08x at pc 0x%08x", inst, pc)
	default:
		return c.illegal(inst)
	}
	x[Zero] = 0
	c.PC = next
	return nil
}

func (c *Core) illegal(inst uint32) error {
	glog.V(1).Infof("illegal instruction 0x%08x at 0x%08x", inst, c.PC)
	return errors.Annotatef(ErrIllegalInstruction, "0x%08x at pc 0x%08x", inst, c.PC)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
