package types

import "fmt"

// ContextKind identifies one of the isolated execution contexts of an extension.
type ContextKind string

const (
	ContextBackground    ContextKind = "background"     // ContextBackground is the long-lived hub.
	ContextPopup         ContextKind = "popup"          // ContextPopup is the short-lived popup UI.
	ContextContentScript ContextKind = "content_script" // ContextContentScript runs inside a single tab.
)

// Valid reports whether k is one of the known context kinds.
func (k ContextKind) Valid() bool {
	switch k {
	case ContextBackground, ContextPopup, ContextContentScript:
		return true
	}
	return false
}

// ParseContextKind converts a string into a ContextKind.
func ParseContextKind(s string) (ContextKind, error) {
	k := ContextKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown context kind %q", s)
	}
	return k, nil
}

// ContextID addresses a running context.
//
// The background context is a singleton, a content script is addressed by the
// tab it runs in, and each popup activation gets its own ephemeral Instance.
type ContextID struct {
	Kind     ContextKind
	TabID    int
	Instance string
}

// BackgroundID returns the address of the background singleton.
func BackgroundID() ContextID {
	return ContextID{Kind: ContextBackground}
}

// PopupID returns the address of a popup instance.
func PopupID(instance string) ContextID {
	return ContextID{Kind: ContextPopup, Instance: instance}
}

// ContentScriptID returns the address of the content script running in a tab.
func ContentScriptID(tabID int) ContextID {
	return ContextID{Kind: ContextContentScript, TabID: tabID}
}

// String renders the ID for logs.
func (id ContextID) String() string {
	switch id.Kind {
	case ContextContentScript:
		return fmt.Sprintf("%s:%d", id.Kind, id.TabID)
	case ContextPopup:
		if id.Instance != "" {
			return fmt.Sprintf("%s:%s", id.Kind, id.Instance)
		}
	}
	return string(id.Kind)
}
