package isel

import (
	"github.com/mu-vm/muvm/internal/asmx86"
	"github.com/mu-vm/muvm/internal/ir"
)

// condFor maps an IR comparison predicate to the x86 condition code used
// by both MCCmp/MCSetcc (component K) and the final Jcc/SETcc encoding
// (component M), keeping the mapping in one place.
func condFor(p ir.ICmpPredicate) byte {
	switch p {
	case ir.ICmpEQ:
		return asmx86.CondE
	case ir.ICmpNE:
		return asmx86.CondNE
	case ir.ICmpSLT:
		return asmx86.CondL
	case ir.ICmpSLE:
		return asmx86.CondLE
	case ir.ICmpSGT:
		return asmx86.CondG
	case ir.ICmpSGE:
		return asmx86.CondGE
	case ir.ICmpULT:
		return asmx86.CondB
	case ir.ICmpULE:
		return asmx86.CondBE
	case ir.ICmpUGT:
		return asmx86.CondA
	case ir.ICmpUGE:
		return asmx86.CondAE
	default:
		return asmx86.CondE
	}
}
