// Package classfile reads the parts of a JVM class file that line coverage
// needs: the class's internal name, its source file and the set of source
// lines that carry bytecode.
package classfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Magic is the leading four bytes of every class file.
const Magic = 0xCAFEBABE

// ErrNotClassFile is returned when the magic number does not match.
var ErrNotClassFile = errors.New("not a class file")

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// Class is the coverage-relevant view of a class file.
type Class struct {
	Name       string // internal form, e.g. com/example/Main
	SourceFile string // empty when the SourceFile attribute is absent
	Lines      []int  // sorted, distinct
}

// Package returns the internal package name ("" for the default package).
func (c *Class) Package() string {
	for i := len(c.Name) - 1; i >= 0; i-- {
		if c.Name[i] == '/' {
			return c.Name[:i]
		}
	}
	return ""
}

// ParseFile reads the class file at path.
func ParseFile(path string) (*Class, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Parse(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

type constant struct {
	tag   byte
	utf8  string
	index uint16 // name_index for Class
}

type reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (r *reader) u1() byte {
	if r.err != nil {
		return 0
	}
	_, r.err = io.ReadFull(r.r, r.buf[:1])
	return r.buf[0]
}

func (r *reader) u2() uint16 {
	if r.err != nil {
		return 0
	}
	_, r.err = io.ReadFull(r.r, r.buf[:2])
	return binary.BigEndian.Uint16(r.buf[:2])
}

func (r *reader) u4() uint32 {
	if r.err != nil {
		return 0
	}
	_, r.err = io.ReadFull(r.r, r.buf[:4])
	return binary.BigEndian.Uint32(r.buf[:4])
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	_, r.err = io.ReadFull(r.r, b)
	return b
}

func (r *reader) skip(n int64) {
	if r.err != nil {
		return
	}
	_, r.err = io.CopyN(io.Discard, r.r, n)
}

// Parse reads a class file from r.
func Parse(in io.Reader) (*Class, error) {
	r := &reader{r: in}
	if magic := r.u4(); r.err == nil && magic != Magic {
		return nil, ErrNotClassFile
	}
	r.u2() // minor
	r.u2() // major

	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}

	r.u2() // access flags
	thisClass := r.u2()
	r.u2() // super
	ifaces := r.u2()
	r.skip(int64(ifaces) * 2)

	utf8 := func(i uint16) (string, error) {
		if int(i) >= len(pool) || pool[i].tag != tagUtf8 {
			return "", fmt.Errorf("constant %d is not utf8", i)
		}
		return pool[i].utf8, nil
	}

	// Fields carry no line numbers.
	fields := r.u2()
	for i := 0; i < int(fields) && r.err == nil; i++ {
		r.skip(6)
		skipAttributes(r)
	}

	lines := make(map[int]struct{})
	methods := r.u2()
	for i := 0; i < int(methods) && r.err == nil; i++ {
		r.skip(6)
		count := r.u2()
		for j := 0; j < int(count) && r.err == nil; j++ {
			nameIdx := r.u2()
			length := r.u4()
			name, err := utf8(nameIdx)
			if err != nil {
				return nil, err
			}
			if name != "Code" {
				r.skip(int64(length))
				continue
			}
			if err := readCode(r, utf8, lines); err != nil {
				return nil, err
			}
		}
	}

	var source string
	attrs := r.u2()
	for i := 0; i < int(attrs) && r.err == nil; i++ {
		nameIdx := r.u2()
		length := r.u4()
		name, err := utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		if name == "SourceFile" && length == 2 {
			source, err = utf8(r.u2())
			if err != nil {
				return nil, err
			}
			continue
		}
		r.skip(int64(length))
	}
	if r.err != nil {
		return nil, fmt.Errorf("truncated class file: %w", r.err)
	}

	if int(thisClass) >= len(pool) || pool[thisClass].tag != tagClass {
		return nil, fmt.Errorf("this_class %d is not a class constant", thisClass)
	}
	name, err := utf8(pool[thisClass].index)
	if err != nil {
		return nil, err
	}

	c := &Class{Name: name, SourceFile: source, Lines: make([]int, 0, len(lines))}
	for l := range lines {
		c.Lines = append(c.Lines, l)
	}
	sort.Ints(c.Lines)
	return c, nil
}

func readPool(r *reader) ([]constant, error) {
	count := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("truncated class file: %w", r.err)
	}
	pool := make([]constant, count)
	for i := 1; i < int(count); i++ {
		tag := r.u1()
		pool[i].tag = tag
		switch tag {
		case tagUtf8:
			n := r.u2()
			pool[i].utf8 = string(r.bytes(int(n)))
		case tagClass:
			pool[i].index = r.u2()
		case tagString, tagMethodType, tagModule, tagPackage:
			r.skip(2)
		case tagMethodHandle:
			r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			r.skip(4)
		case tagLong, tagDouble:
			// Eight-byte constants take two pool slots.
			r.skip(8)
			i++
		default:
			if r.err == nil {
				return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
			}
		}
		if r.err != nil {
			return nil, fmt.Errorf("truncated constant pool: %w", r.err)
		}
	}
	return pool, nil
}

func readCode(r *reader, utf8 func(uint16) (string, error), lines map[int]struct{}) error {
	r.skip(4) // max_stack, max_locals
	codeLen := r.u4()
	r.skip(int64(codeLen))
	excLen := r.u2()
	r.skip(int64(excLen) * 8)
	count := r.u2()
	for i := 0; i < int(count) && r.err == nil; i++ {
		nameIdx := r.u2()
		length := r.u4()
		name, err := utf8(nameIdx)
		if err != nil {
			return err
		}
		if name != "LineNumberTable" {
			r.skip(int64(length))
			continue
		}
		entries := r.u2()
		for j := 0; j < int(entries) && r.err == nil; j++ {
			r.u2() // start_pc
			lines[int(r.u2())] = struct{}{}
		}
	}
	return nil
}

func skipAttributes(r *reader) {
	count := r.u2()
	for i := 0; i < int(count) && r.err == nil; i++ {
		r.u2()
		r.skip(int64(r.u4()))
	}
}
