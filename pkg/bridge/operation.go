package bridge

import (
	"fmt"
	"strings"
)

// Operation is a named piece of work a PageHost runs inside a page. The set
// is closed: hosts implement each operation natively instead of evaluating
// caller-supplied source.
type Operation interface {
	// Name is the stable identifier used in logs and on the command line.
	Name() string
	operation()
}

// ScrapeOuterHTML returns the serialized markup of the document element.
type ScrapeOuterHTML struct{}

// ReadTitle returns the document title.
type ReadTitle struct{}

// ReadURL returns the document URL.
type ReadURL struct{}

// ReadText returns the text content of the body.
type ReadText struct{}

// CountElements returns how many elements match a CSS selector.
type CountElements struct {
	Selector string
}

func (ScrapeOuterHTML) Name() string { return "scrape_outer_html" }
func (ReadTitle) Name() string       { return "read_title" }
func (ReadURL) Name() string         { return "read_url" }
func (ReadText) Name() string        { return "read_text" }
func (CountElements) Name() string   { return "count_elements" }

func (ScrapeOuterHTML) operation() {}
func (ReadTitle) operation()       {}
func (ReadURL) operation()         {}
func (ReadText) operation()        {}
func (CountElements) operation()   {}

// OperationNames lists the names ParseOperation accepts.
func OperationNames() []string {
	return []string{
		ScrapeOuterHTML{}.Name(),
		ReadTitle{}.Name(),
		ReadURL{}.Name(),
		ReadText{}.Name(),
		CountElements{}.Name(),
	}
}

// ParseOperation builds an operation from its name. CountElements takes the
// selector as its argument.
func ParseOperation(name, arg string) (Operation, error) {
	var op Operation
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "scrape_outer_html", "scrape":
		op = ScrapeOuterHTML{}
	case "read_title", "title":
		op = ReadTitle{}
	case "read_url", "url":
		op = ReadURL{}
	case "read_text", "text":
		op = ReadText{}
	case "count_elements", "count":
		op = CountElements{Selector: arg}
	default:
		return nil, fmt.Errorf("unknown operation %q (must be one of %s)", name, strings.Join(OperationNames(), ", "))
	}
	if err := validateOperation(op); err != nil {
		return nil, err
	}
	return op, nil
}

func validateOperation(op Operation) error {
	switch o := op.(type) {
	case nil:
		return fmt.Errorf("no operation given")
	case CountElements:
		if strings.TrimSpace(o.Selector) == "" {
			return fmt.Errorf("%s requires a selector", o.Name())
		}
	}
	return nil
}
