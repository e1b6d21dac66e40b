package extension

import (
	"fmt"

	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/messenger"
	"github.com/entrhq/courier/pkg/runtime"
	"github.com/entrhq/courier/pkg/types"
)

// DOMInfoReply is what a content script answers to a DOMInfo request.
const DOMInfoReply = "Sending response from content script!"

// ContentScript is the role running inside one tab.
type ContentScript struct {
	tabID  int
	logger *logging.Logger
}

// startContentScript spawns the content script of a tab and registers its
// DOMInfo handler.
func startContentScript(rt *runtime.Runtime, m *messenger.Messenger, tabID int, logger *logging.Logger) (*ContentScript, error) {
	id := types.ContentScriptID(tabID)
	if _, err := rt.Spawn(id); err != nil {
		return nil, fmt.Errorf("failed to start content script in tab %d: %w", tabID, err)
	}

	cs := &ContentScript{tabID: tabID, logger: logger}
	if err := m.Handle(id, types.SubjectDOMInfo, cs.onDOMInfo); err != nil {
		_ = rt.Terminate(id)
		return nil, fmt.Errorf("failed to register DOMInfo handler in tab %d: %w", tabID, err)
	}
	return cs, nil
}

// TabID returns the tab the script runs in.
func (cs *ContentScript) TabID() int {
	return cs.tabID
}

func (cs *ContentScript) onDOMInfo(sender types.ContextID, env types.Envelope) (any, error) {
	cs.logger.Infof("Content script in tab %d received %s from %s", cs.tabID, env.Subject, sender)
	return DOMInfoReply, nil
}
