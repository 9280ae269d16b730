// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/scanner"
)

var errTooManyErrors = errors.New("too many errors")

const maxErrors = 1

// ParseError is one parse failure, carrying the source position it
// occurred at.
type ParseError struct {
	Err error
	Pos scanner.Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Err)
}

type parser struct {
	scanner scanner.Scanner
	tok     rune
	errors  []error
}

func newParser(filename string, r io.Reader) *parser {
	p := &parser{}
	p.scanner.Init(r)
	p.scanner.Filename = filename
	p.scanner.Mode = scanner.ScanIdents | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	// Buildfiles have no statement terminator token, so '\n' has to survive
	// as a real token to mark the end of a name list or directive argument;
	// only space/tab/CR are true whitespace here.
	p.scanner.Whitespace = 1<<'\t' | 1<<'\r' | 1<<' '
	// Variable and target-type names use '.', '-' and '/' (directory
	// prefixes); '*' starts the single-character pattern wildcard.
	p.scanner.IsIdentRune = func(ch rune, i int) bool {
		switch {
		case ch == '_' || ch == '.' || ch == '-' || ch == '/':
			return true
		case ch == '*':
			return i == 0
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
			return true
		case ch >= '0' && ch <= '9':
			return true
		}
		return false
	}
	p.next()
	return p
}

func (p *parser) next() {
	p.tok = p.scanner.Scan()
}

func (p *parser) pos() scanner.Position { return p.scanner.Position }

func (p *parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, &ParseError{Err: fmt.Errorf(format, args...), Pos: p.pos()})
	if len(p.errors) >= maxErrors {
		panic(errTooManyErrors)
	}
}

func (p *parser) text() string { return p.scanner.TokenText() }

// accept consumes the current token if it equals want (by rune value),
// erroring otherwise; used for the small fixed punctuation this grammar
// needs (':', '=', '{', '}', ',').
func (p *parser) accept(want rune) {
	if p.tok != want {
		p.errorf("expected %q, found %q", want, p.text())
		return
	}
	p.next()
}

// Parse reads one buildfile from r and returns its declarations. It never
// evaluates expressions, expands variables, or resolves includes — those
// remain the embedding loader's job against the returned *File.
func Parse(filename string, r io.Reader) (file *File, errs []error) {
	p := newParser(filename, r)
	defer func() {
		if rec := recover(); rec != nil {
			if rec == errTooManyErrors {
				errs = p.errors
				return
			}
			panic(rec)
		}
	}()

	decls := p.parseDecls(scanner.EOF)
	errs = p.errors
	return &File{Name: filename, Decls: decls}, errs
}

// parseDecls reads declarations until it sees end (either scanner.EOF at
// the top level, or '}' closing a block).
func (p *parser) parseDecls(end rune) []Decl {
	var decls []Decl
	for p.tok != end && p.tok != scanner.EOF {
		if p.tok == '\n' {
			p.next()
			continue
		}
		d := p.parseDecl()
		if d != nil {
			decls = append(decls, d)
		}
	}
	return decls
}

func (p *parser) parseDecl() Decl {
	start := p.pos()
	if p.tok == scanner.Ident {
		switch p.text() {
		case "include":
			return p.parseDirective(DirInclude, start)
		case "import":
			return p.parseDirective(DirImport, start)
		case "export":
			return p.parseDirective(DirExport, start)
		case "using":
			return p.parseDirective(DirUsing, start)
		case "source":
			return p.parseDirective(DirSource, start)
		case "define":
			return p.parseDefine(start)
		case "if":
			return p.parseIf(start)
		case "assert":
			return p.parseAssert(start)
		case "print":
			return p.parsePrint(start)
		}
	}
	return p.parseNameLed(start)
}

func (p *parser) parseDirective(kind DirectiveKind, start scanner.Position) Decl {
	p.next() // keyword
	arg := p.parseRestOfLine()
	return &DirectiveDecl{Kind: kind, Arg: strings.TrimSpace(arg), StartPos: start, EndPos: p.pos()}
}

func (p *parser) parseDefine(start scanner.Position) Decl {
	p.next() // "define"
	name := p.text()
	p.next()
	p.accept('{')
	body := p.parseDecls('}')
	p.accept('}')
	return &DefineDecl{Name: name, Body: body, StartPos: start, EndPos: p.pos()}
}

func (p *parser) parseIf(start scanner.Position) Decl {
	p.next() // "if"
	cond := p.parseRestOfLineUntil('{')
	p.accept('{')
	then := p.parseDecls('}')
	p.accept('}')
	var els []Decl
	if p.tok == scanner.Ident && p.text() == "else" {
		p.next()
		p.accept('{')
		els = p.parseDecls('}')
		p.accept('}')
	}
	return &IfDecl{Cond: strings.TrimSpace(cond), Then: then, Else: els, StartPos: start, EndPos: p.pos()}
}

func (p *parser) parseAssert(start scanner.Position) Decl {
	p.next() // "assert"
	rest := p.parseRestOfLine()
	cond, msg := rest, ""
	if i := strings.IndexByte(rest, ','); i >= 0 {
		cond, msg = rest[:i], strings.TrimSpace(rest[i+1:])
	}
	return &AssertDecl{Cond: strings.TrimSpace(cond), Message: msg, StartPos: start, EndPos: p.pos()}
}

func (p *parser) parsePrint(start scanner.Position) Decl {
	p.next() // "print"
	text := p.parseRestOfLine()
	return &PrintDecl{Text: strings.TrimSpace(text), StartPos: start, EndPos: p.pos()}
}

// parseNameLed parses the two forms that begin with a name list: a target
// declaration (`names: prereqs`) and a scope/pattern assignment
// (`names: var = value` or `var = value` with no leading colon).
func (p *parser) parseNameLed(start scanner.Position) Decl {
	names := p.parseNameList(':', '=')

	if p.tok == '=' || p.isAssignOp() {
		op := p.parseAssignOp()
		val := p.parseNameList(scanner.EOF, '\n')
		varName := ""
		if len(names) == 1 {
			varName = names[0].Simple
		}
		return &ScopeAssignDecl{Var: varName, Op: op, Value: val, StartPos: start, EndPos: p.pos()}
	}

	if p.tok != ':' {
		p.errorf("expected ':' or assignment operator, found %q", p.text())
		p.next()
		return nil
	}
	p.next() // ':'

	if len(names) == 1 && names[0].Type != "" && names[0].Simple == "*" {
		// type{*}: var = value
		varName := p.text()
		p.next()
		op := p.parseAssignOp()
		val := p.parseNameList(scanner.EOF, '\n')
		return &PatternAssignDecl{TargetType: names[0].Type, Var: varName, Op: op, Value: val, StartPos: start, EndPos: p.pos()}
	}

	if len(names) == 1 && strings.HasSuffix(names[0].Dir, "/") && names[0].Type == "" {
		// dir/ : var = value
		varName := p.text()
		p.next()
		op := p.parseAssignOp()
		val := p.parseNameList(scanner.EOF, '\n')
		return &ScopeAssignDecl{Dir: names[0].Dir, Var: varName, Op: op, Value: val, StartPos: start, EndPos: p.pos()}
	}

	prereqs := p.parseNameList(scanner.EOF, '\n')
	return &TargetDecl{Targets: names, Prerequisites: prereqs, StartPos: start, EndPos: p.pos()}
}

func (p *parser) isAssignOp() bool {
	return p.tok == '=' || (p.tok == '+' && p.peekIsAssign())
}

func (p *parser) peekIsAssign() bool {
	return p.scanner.Peek() == '='
}

func (p *parser) parseAssignOp() AssignOp {
	switch {
	case p.tok == '+':
		p.next()
		p.accept('=')
		return AssignAppend
	case p.tok == '=':
		p.next()
		if p.tok == '+' {
			p.next()
			return AssignPrepend
		}
		return AssignSet
	default:
		p.errorf("expected assignment operator, found %q", p.text())
		return AssignSet
	}
}

// parseNameList reads a whitespace-separated sequence of names up to (not
// including) stop1 or stop2.
func (p *parser) parseNameList(stop1, stop2 rune) []NamePart {
	var names []NamePart
	for p.tok != stop1 && p.tok != stop2 && p.tok != scanner.EOF && p.tok != '{' && p.tok != '}' {
		if p.tok == ':' || p.tok == '=' {
			break
		}
		names = append(names, p.parseNamePart())
	}
	return names
}

func (p *parser) parseNamePart() NamePart {
	text := p.text()
	p.next()
	if p.tok == '{' {
		p.next()
		simple := p.text()
		p.next()
		p.accept('}')
		return NamePart{Type: text, Simple: simple}
	}
	if strings.HasSuffix(text, "/") {
		return NamePart{Dir: text}
	}
	return NamePart{Simple: text}
}

// parseRestOfLine consumes tokens up to the next newline-equivalent
// boundary (EOF or '}'), joining their literal text with single spaces.
// The buildfile grammar has no statement terminator token in
// text/scanner's default mode, so directive arguments are scanned greedily
// to end of input/block; callers needing finer control use
// parseRestOfLineUntil.
func (p *parser) parseRestOfLine() string {
	return p.parseRestOfLineUntil(scanner.EOF, '}', '\n')
}

func (p *parser) parseRestOfLineUntil(stops ...rune) string {
	var b strings.Builder
	for {
		for _, s := range stops {
			if p.tok == s {
				return b.String()
			}
		}
		if p.tok == scanner.EOF {
			return b.String()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.text())
		p.next()
	}
}
