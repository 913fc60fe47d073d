// Package sender implements the sender side of the delta engine: searching
// source file content against a destination's block signature and emitting
// a literal/match token stream (spec.md §4.7 "Sender search", C8).
package sender

// TokenKind distinguishes the three token shapes on the wire (spec.md §3
// "Token stream").
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenMatch
	TokenEnd
)

// Token is one element of the delta stream for a single file.
type Token struct {
	Kind    TokenKind
	Literal []byte
	Block   int32
}
