package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/dkoosis/covgate/pkg/coverage"
)

const doctype = `<!DOCTYPE report PUBLIC "-//JACOCO//DTD Report 1.1//EN" "report.dtd">` + "\n"

type xmlReport struct {
	XMLName  xml.Name     `xml:"report"`
	Name     string       `xml:"name,attr"`
	Sessions []xmlSession `xml:"sessioninfo"`
	Packages []xmlPackage `xml:"package"`
	Counters []xmlCounter `xml:"counter"`
}

type xmlSession struct {
	ID    string `xml:"id,attr"`
	Start int64  `xml:"start,attr"`
	Dump  int64  `xml:"dump,attr"`
}

type xmlPackage struct {
	Name        string          `xml:"name,attr"`
	Classes     []xmlClass      `xml:"class"`
	SourceFiles []xmlSourceFile `xml:"sourcefile"`
	Counters    []xmlCounter    `xml:"counter"`
}

type xmlClass struct {
	Name           string       `xml:"name,attr"`
	SourceFileName string       `xml:"sourcefilename,attr,omitempty"`
	Counters       []xmlCounter `xml:"counter"`
}

type xmlSourceFile struct {
	Name     string       `xml:"name,attr"`
	Lines    []xmlLine    `xml:"line"`
	Counters []xmlCounter `xml:"counter"`
}

// Lines carry no instruction or branch data; a covered line reports one
// covered instruction and a missed line one missed instruction.
type xmlLine struct {
	Nr int `xml:"nr,attr"`
	MI int `xml:"mi,attr"`
	CI int `xml:"ci,attr"`
	MB int `xml:"mb,attr"`
	CB int `xml:"cb,attr"`
}

type xmlCounter struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

func lineCounter(c coverage.Counter) []xmlCounter {
	return []xmlCounter{{Type: coverage.CounterLine, Missed: c.Missed, Covered: c.Covered}}
}

// WriteXML renders b in the JaCoCo report DTD shape.
func WriteXML(w io.Writer, b *coverage.Bundle) error {
	doc := xmlReport{Name: b.Name, Counters: lineCounter(b.Counter)}
	for _, s := range b.Sessions {
		doc.Sessions = append(doc.Sessions, xmlSession{ID: s.ID, Start: s.Start.UnixMilli(), Dump: s.Dump.UnixMilli()})
	}
	for _, p := range b.Packages {
		doc.Packages = append(doc.Packages, xmlPackageOf(p))
	}

	if _, err := io.WriteString(w, xml.Header+doctype); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding xml report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func xmlPackageOf(p coverage.PackageCoverage) xmlPackage {
	out := xmlPackage{Name: p.Name, Counters: lineCounter(p.Counter)}
	for _, c := range p.Classes {
		out.Classes = append(out.Classes, xmlClass{
			Name:           c.Name,
			SourceFileName: c.SourceFile,
			Counters:       lineCounter(c.Counter),
		})
	}
	for _, sf := range SourceFiles(p) {
		x := xmlSourceFile{Name: sf.Name, Counters: lineCounter(sf.Counter)}
		for _, l := range sf.Lines {
			xl := xmlLine{Nr: l.Number, MI: 1}
			if l.Covered() {
				xl.MI, xl.CI = 0, 1
			}
			x.Lines = append(x.Lines, xl)
		}
		out.SourceFiles = append(out.SourceFiles, x)
	}
	return out
}

// SourceFile is the merged line coverage of every class compiled from one
// source file.
type SourceFile struct {
	Package string
	Name    string
	Lines   []coverage.Line
	Counter coverage.Counter
}

// SourceFiles groups the classes of p by source file. A line shared by several
// classes is covered when any of them executed it. Classes without a source
// file attribute are omitted.
func SourceFiles(p coverage.PackageCoverage) []SourceFile {
	byName := make(map[string]map[int]int64)
	for _, c := range p.Classes {
		if c.SourceFile == "" {
			continue
		}
		lines, ok := byName[c.SourceFile]
		if !ok {
			lines = make(map[int]int64)
			byName[c.SourceFile] = lines
		}
		for _, l := range c.Lines {
			lines[l.Number] += l.Hits
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]SourceFile, 0, len(names))
	for _, n := range names {
		sf := SourceFile{Package: p.Name, Name: n}
		nums := make([]int, 0, len(byName[n]))
		for nr := range byName[n] {
			nums = append(nums, nr)
		}
		sort.Ints(nums)
		for _, nr := range nums {
			l := coverage.Line{Number: nr, Hits: byName[n][nr]}
			sf.Lines = append(sf.Lines, l)
			if l.Covered() {
				sf.Counter.Covered++
			} else {
				sf.Counter.Missed++
			}
		}
		out = append(out, sf)
	}
	return out
}
