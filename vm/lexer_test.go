package vm

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func lexAll(src string) []token {
	lx := newLexer([]byte(src))
	var toks []token
	for {
		tok := lx.next()
		toks = append(toks, tok)
		if tok.kind == tEOF {
			return toks
		}
	}
}

func TestLexerNumberLiterals(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{"3.1415926535", 3.1415926535},
		{"0x1F", 31},
		{"0b101", 5},
		{"0o17", 15},
		{"1e3", 1000},
		{"1.5e-1", 0.15},
	}
	for _, c := range cases {
		toks := lexAll(c.src)
		assert(t, toks[0].kind == tNumber, "expected number token for %q", c.src)
		assert(t, toks[0].num == c.want, "%q: got %v want %v", c.src, toks[0].num, c.want)
	}
}

func TestLexerCRLFCountsAsOneLine(t *testing.T) {
	toks := lexAll("1\r\n2")
	assert(t, toks[0].line == 1, "got line %d want 1", toks[0].line)
	assert(t, toks[1].line == 2, "got line %d want 2", toks[1].line)
}

func TestLexerKeywordsVsIdentifiers(t *testing.T) {
	toks := lexAll("let iffy if")
	assert(t, toks[0].kind == tLet, "expected 'let' keyword")
	assert(t, toks[1].kind == tIdent, "expected 'iffy' to lex as an identifier, not a keyword prefix match")
	assert(t, toks[2].kind == tIf, "expected 'if' keyword")
}

func TestLexerAugmentedAssignOperators(t *testing.T) {
	toks := lexAll("+= -= *= /= %= + - =")
	want := []tokenKind{tPlusEq, tMinusEq, tStarEq, tSlashEq, tPercentEq, tokenKind('+'), tokenKind('-'), tokenKind('=')}
	for i, k := range want {
		assert(t, toks[i].kind == k, "token %d: got %v want %v", i, toks[i].kind, k)
	}
}

func TestLexerMalformedNumberIsLexError(t *testing.T) {
	defer func() {
		r := recover()
		assert(t, r != nil, "expected a panic from abortLex")
		pa, ok := r.(parseAbort)
		assert(t, ok, "expected a parseAbort panic, got %T", r)
		assert(t, pa.err.Kind() == ErrLex, "expected ErrLex, got %v", pa.err.Kind())
	}()
	lexAll("0x")
}

func TestLexerIdentifierHashesAreStable(t *testing.T) {
	toks := lexAll("foo foo bar")
	assert(t, toks[0].hash == toks[1].hash, "same identifier text must hash the same")
	assert(t, toks[0].hash != toks[2].hash, "different identifier text should (almost certainly) hash differently")
}
