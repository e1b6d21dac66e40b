package types

import "fmt"

// TabDescriptor is a read-only snapshot of a browser tab.
// It is a value: holding one does not keep the tab alive or track changes.
type TabDescriptor struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
	WindowID int    `json:"windowId"`
}

// String renders the descriptor for logs.
func (t TabDescriptor) String() string {
	return fmt.Sprintf("tab %d (%s)", t.ID, t.URL)
}

// WindowScope selects which window an active-tab query looks at.
// The zero value means the currently focused window.
type WindowScope struct {
	WindowID int
}

// CurrentWindow scopes a query to the focused window.
func CurrentWindow() WindowScope {
	return WindowScope{}
}

// InWindow scopes a query to a specific window.
func InWindow(windowID int) WindowScope {
	return WindowScope{WindowID: windowID}
}

// IsCurrent reports whether the scope refers to the focused window.
func (s WindowScope) IsCurrent() bool {
	return s.WindowID == 0
}

// ScrapeResult carries the serialized markup of a page.
type ScrapeResult struct {
	HTML string `json:"html"`
}

// FrameResult is the value an operation produced in one frame of a page.
type FrameResult struct {
	FrameID int `json:"frameId"`
	Value   any `json:"value"`
}
