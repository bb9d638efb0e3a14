package sarif

import (
	"encoding/json"
	"io"
)

// Builder constructs a single-run SARIF document.
type Builder struct {
	doc Document
}

// NewBuilder creates a SARIF builder for the given tool.
func NewBuilder(toolName, toolVersion string) *Builder {
	return &Builder{doc: Document{
		Version: Version,
		Schema:  Schema,
		Runs: []Run{{
			Tool:    Tool{Driver: Driver{Name: toolName, Version: toolVersion}},
			Results: []Result{},
		}},
	}}
}

func (b *Builder) run() *Run { return &b.doc.Runs[0] }

// WithRunID sets the run's automation id.
func (b *Builder) WithRunID(id string) *Builder {
	if id != "" {
		b.run().AutomationDetails = &AutomationDetails{ID: id}
	}
	return b
}

// AddRule declares a rule once; repeated ids are ignored.
func (b *Builder) AddRule(id, description string) *Builder {
	d := &b.run().Tool.Driver
	for _, r := range d.Rules {
		if r.ID == id {
			return b
		}
	}
	d.Rules = append(d.Rules, Rule{ID: id, ShortDescription: Message{Text: description}})
	return b
}

// AddResult adds a finding located in file. line 0 omits the region.
func (b *Builder) AddResult(ruleID, level, message, file string, line int, props map[string]any) *Builder {
	r := Result{
		RuleID:     ruleID,
		Level:      level,
		Message:    Message{Text: message},
		Properties: props,
	}
	if file != "" {
		loc := Location{PhysicalLocation: PhysicalLocation{ArtifactLocation: ArtifactLocation{URI: file}}}
		if line > 0 {
			loc.PhysicalLocation.Region = &Region{StartLine: line}
		}
		r.Locations = []Location{loc}
	}
	b.run().Results = append(b.run().Results, r)
	return b
}

// Document returns the constructed SARIF document.
func (b *Builder) Document() *Document {
	return &b.doc
}

// WriteTo writes the SARIF document as JSON to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	data, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	n, err := w.Write(data)
	return int64(n), err
}
