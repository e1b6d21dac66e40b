package playwright

import (
	"fmt"

	"github.com/entrhq/courier/pkg/bridge"
)

const (
	scrapeOuterHTMLScript = `() => document.documentElement ? document.documentElement.outerHTML : undefined`
	readTitleScript       = `() => document.title`
	readURLScript         = `() => location.href`
	readTextScript        = `() => document.body ? document.body.innerText : ""`
	countElementsScript   = `(selector) => document.querySelectorAll(selector).length`
)

// scriptFor maps an operation to the fixed script that implements it.
func scriptFor(op bridge.Operation) (string, []any, error) {
	switch o := op.(type) {
	case bridge.ScrapeOuterHTML:
		return scrapeOuterHTMLScript, nil, nil
	case bridge.ReadTitle:
		return readTitleScript, nil, nil
	case bridge.ReadURL:
		return readURLScript, nil, nil
	case bridge.ReadText:
		return readTextScript, nil, nil
	case bridge.CountElements:
		return countElementsScript, []any{o.Selector}, nil
	}
	return "", nil, fmt.Errorf("unsupported operation %T", op)
}
