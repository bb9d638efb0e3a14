// Package testfixture builds compiled-class trees and execution traces on
// disk for tests.
package testfixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ClassBytes returns a minimal, valid class file for internalName whose single
// method carries the given source lines.
func ClassBytes(internalName, sourceFile string, lines ...int) []byte {
	var b bytes.Buffer
	w := func(v any) { _ = binary.Write(&b, binary.BigEndian, v) }
	utf8 := func(s string) {
		w(uint8(1))
		w(uint16(len(s)))
		b.WriteString(s)
	}

	w(uint32(0xCAFEBABE))
	w(uint16(0))  // minor
	w(uint16(52)) // major

	// Pool: 1 name, 2 class, 3 super name, 4 super class, 5 Code,
	// 6 LineNumberTable, 7 SourceFile, 8 source, 9 method, 10 descriptor,
	// 11-12 a long constant.
	w(uint16(13))
	utf8(internalName)
	w(uint8(7))
	w(uint16(1))
	utf8("java/lang/Object")
	w(uint8(7))
	w(uint16(3))
	utf8("Code")
	utf8("LineNumberTable")
	utf8("SourceFile")
	utf8(sourceFile)
	utf8("run")
	utf8("()V")
	w(uint8(5))
	w(uint64(42))

	w(uint16(0x0021)) // public super
	w(uint16(2))      // this
	w(uint16(4))      // super
	w(uint16(0))      // interfaces
	w(uint16(0))      // fields

	w(uint16(1)) // methods
	w(uint16(0x0001))
	w(uint16(9))
	w(uint16(10))
	w(uint16(1)) // method attributes

	code := make([]byte, len(lines)+1)
	code[len(lines)] = 0xB1 // return
	lnt := 2 + 4*len(lines)
	codeAttr := 2 + 2 + 4 + len(code) + 2 + 2 + (6 + lnt)
	w(uint16(5))
	w(uint32(codeAttr))
	w(uint16(1)) // max_stack
	w(uint16(1)) // max_locals
	w(uint32(len(code)))
	b.Write(code)
	w(uint16(0)) // exception table
	w(uint16(1)) // code attributes
	w(uint16(6))
	w(uint32(lnt))
	w(uint16(len(lines)))
	for i, l := range lines {
		w(uint16(i))
		w(uint16(l))
	}

	w(uint16(1)) // class attributes
	w(uint16(7))
	w(uint32(2))
	w(uint16(8))
	return b.Bytes()
}

// WriteClass writes a class file for internalName under root/dir, at the path
// implied by the internal name, and returns the file path.
func WriteClass(t testing.TB, root, dir, internalName, sourceFile string, lines ...int) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(dir), filepath.FromSlash(internalName)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, ClassBytes(internalName, sourceFile, lines...), 0o600); err != nil {
		t.Fatalf("write class: %v", err)
	}
	return path
}

// Hits maps class internal name to line -> hit count.
type Hits map[string]map[int]int

// TraceBytes renders hits in the execution-trace text format.
func TraceBytes(sessionID string, hits Hits) []byte {
	var sb strings.Builder
	sb.WriteString("covgate-trace 1\n")
	fmt.Fprintf(&sb, "session %s 1700000000000 1700000001000\n", sessionID)
	classes := make([]string, 0, len(hits))
	for c := range hits {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		lines := make([]int, 0, len(hits[c]))
		for l := range hits[c] {
			lines = append(lines, l)
		}
		sort.Ints(lines)
		for _, l := range lines {
			fmt.Fprintf(&sb, "%s %d %d\n", c, l, hits[c][l])
		}
	}
	return []byte(sb.String())
}

// WriteTrace writes a trace file at path, creating parent directories.
func WriteTrace(t testing.TB, path string, hits Hits) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, TraceBytes("test-session", hits), 0o600); err != nil {
		t.Fatalf("write trace: %v", err)
	}
}
