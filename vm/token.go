package vm

// tokenKind identifies a lexical token. Single-character tokens reuse their
// byte value as the kind (so '+' is kind 43); multi-character tokens start
// above 255 so the two spaces never collide.
type tokenKind int

const (
	tEOF tokenKind = 256 + iota
	tIdent
	tNumber

	tEqEq     // ==
	tNotEq    // !=
	tLe       // <=
	tGe       // >=
	tAndAnd    // &&
	tOrOr      // ||
	tDotDot    // ..
	tPlusEq    // +=
	tMinusEq   // -=
	tStarEq    // *=
	tSlashEq   // /=
	tPercentEq // %=; lexed per the language's operator list, but there is no
	// MOD opcode to compile it into - see augmentedBase.

	// reserved words
	tLet
	tIf
	tElse
	tElseIf
	tLoop
	tWhile
	tFor
	tFn
	tTrue
	tFalse
	tNil
)

var keywords = map[string]tokenKind{
	"let":     tLet,
	"if":      tIf,
	"else":    tElse,
	"elseif":  tElseIf,
	"loop":    tLoop,
	"while":   tWhile,
	"for":     tFor,
	"fn":      tFn,
	"true":    tTrue,
	"false":   tFalse,
	"nil":     tNil,
}

// token is one lexical token. Payload fields are only meaningful for their
// matching kind: num for tNumber, hash for tIdent.
type token struct {
	kind tokenKind
	pos  int
	len  int
	line int
	num  float64
	hash uint64
}

func (t token) text(src []byte) string {
	return string(src[t.pos : t.pos+t.len])
}
