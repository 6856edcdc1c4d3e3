package core

import (
	"crypto/md5"
	"encoding/binary"
	"hash"
)

// Checksum is the digest peers compare to verify they run the same ruleset.
// Checksum 是对端比较以确认规则集一致的摘要。
type Checksum [md5.Size]byte

type ruleHasher struct {
	h   hash.Hash
	buf [4]byte
}

func (rh *ruleHasher) u8(v uint8) { rh.h.Write([]byte{v}) }

func (rh *ruleHasher) bool(v bool) {
	if v {
		rh.u8(1)
	} else {
		rh.u8(0)
	}
}

func (rh *ruleHasher) u16(v uint16) {
	binary.BigEndian.PutUint16(rh.buf[:2], v)
	rh.h.Write(rh.buf[:2])
}

func (rh *ruleHasher) u32(v uint32) {
	binary.BigEndian.PutUint32(rh.buf[:], v)
	rh.h.Write(rh.buf[:])
}

func (rh *ruleHasher) str(s string) { rh.h.Write([]byte(s)) }

func (rh *ruleHasher) addr(ra *RuleAddr) {
	rh.u8(uint8(ra.Addr.Type))
	switch ra.Addr.Type {
	case AddrDynIf:
		rh.str(ra.Addr.IfName)
		rh.u8(ra.Addr.IfFlags)
	case AddrTable:
		rh.str(ra.Addr.TableName)
	case AddrMask:
		if ra.Addr.Prefix.IsValid() {
			a := ra.Addr.Prefix.Addr().As16()
			rh.h.Write(a[:])
			rh.u8(uint8(ra.Addr.Prefix.Bits()))
		} else {
			var zero [17]byte
			rh.h.Write(zero[:])
		}
	case AddrRTLabel:
		rh.str(ra.Addr.RTLabel)
	}
	rh.u16(ra.Port[0])
	rh.u16(ra.Port[1])
	rh.bool(ra.Neg)
	rh.u8(uint8(ra.PortOp))
}

// rule feeds the matching-relevant fields of r. Counters, numbers and
// resolved pointers do not contribute.
func (rh *ruleHasher) rule(r *Rule) {
	rh.addr(&r.Src)
	rh.addr(&r.Dst)
	rh.str(r.Label)
	rh.str(r.IfName)
	rh.str(r.MatchTag)
	rh.u16(r.matchTag)
	rh.u32(r.OSFP)
	rh.u32(r.Prob)
	rh.u32(r.UID.ID[0])
	rh.u32(r.UID.ID[1])
	rh.u8(uint8(r.UID.Op))
	rh.u32(r.GID.ID[0])
	rh.u32(r.GID.ID[1])
	rh.u8(uint8(r.GID.Op))
	rh.u32(r.RuleFlag)
	rh.u8(uint8(r.Action))
	rh.u8(uint8(r.Direction))
	rh.u8(uint8(r.AF))
	rh.bool(r.Quick)
	rh.bool(r.IfNot)
	rh.bool(r.MatchTagNot)
	rh.bool(r.NatPass)
	rh.u8(r.KeepState)
	rh.u8(r.Proto)
	rh.u8(r.Type)
	rh.u8(r.Code)
	rh.u8(r.Flags)
	rh.u8(r.FlagSet)
	rh.bool(r.AllowOpts)
	rh.u8(uint8(r.Route))
	rh.u8(r.Tos)
}

// computeChecksum digests the given per-class lists, skipping scrub rules.
// computeChecksum 对各类别规则链计算摘要，跳过 scrub 类别。
func computeChecksum(lists [classCount][]*Rule) Checksum {
	rh := &ruleHasher{h: md5.New()}
	for c := Class(0); c < classCount; c++ {
		if c == ClassScrub {
			continue
		}
		for _, r := range lists[c] {
			rh.rule(r)
		}
	}
	var sum Checksum
	copy(sum[:], rh.h.Sum(nil))
	return sum
}
