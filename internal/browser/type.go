package browser

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/repomirrorhq/better-use-sub001/internal/dom"
	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
)

// Type sends text to the element, or to whatever currently holds focus when
// node is the page itself. The element is scrolled into view, optionally
// cleared, then focused through a chain of strategies; focus failure is
// logged but typing proceeds, since the page may have focused a field on
// its own.
func (s *Session) Type(node *dom.ElementNode, text string, clear bool) error {
	page, err := s.CurrentPage()
	if err != nil {
		return err
	}

	// The page index routes keystrokes to the focused element with no
	// element resolution at all.
	if node == nil || node.IsPage() {
		return typeChars(page, text)
	}

	if node.IsSelect() {
		return NewSelectError(node.Index, node.TagName)
	}
	if node.IsFileInput() {
		return NewFileInputError(node.Index, node.TagName)
	}

	scrollNodeIntoView(page, node)

	if clear {
		if err := clearElement(page, node); err != nil {
			L_debug("type: clear failed", "index", node.Index, "error", err)
		}
	}

	if err := focusElement(page, node); err != nil {
		L_warn("type: could not focus element, typing anyway", "index", node.Index, "error", err)
	}

	return typeChars(page, text)
}

// SendKeys presses chords like "Enter", "Control+a" or "Shift+Tab" on the
// focused element. Chords are space-separated.
func (s *Session) SendKeys(keys string) error {
	combos, err := ParseKeys(keys)
	if err != nil {
		return err
	}
	page, err := s.CurrentPage()
	if err != nil {
		return err
	}
	for _, combo := range combos {
		if err := pressCombo(page, combo); err != nil {
			return err
		}
	}
	return nil
}

// pressCombo holds the chord's modifiers, types the key, and releases the
// modifiers in reverse order even when the key itself failed.
func pressCombo(page *rod.Page, combo KeyCombo) error {
	kb := page.Keyboard
	var pressed []input.Key
	defer func() {
		for i := len(pressed) - 1; i >= 0; i-- {
			if err := kb.Release(pressed[i]); err != nil {
				L_trace("sendkeys: modifier release failed", "error", err)
			}
		}
	}()

	for _, mod := range combo.Modifiers {
		if err := kb.Press(mod); err != nil {
			return NewProtocolError("Input.dispatchKeyEvent", err)
		}
		pressed = append(pressed, mod)
	}
	if err := kb.Type(combo.Key); err != nil {
		return NewProtocolError("Input.dispatchKeyEvent", err)
	}
	return nil
}

// focusElement walks the focus strategies in order, advancing only on
// failure: protocol focus, remote focus(), remote click() plus focus(), and
// finally a synthetic mouse click at the element's resolved point.
func focusElement(page *rod.Page, node *dom.ElementNode) error {
	p := page.Timeout(stageTimeout)

	err := (proto.DOMFocus{BackendNodeID: node.BackendNodeID}).Call(p)
	if err == nil {
		return nil
	}
	L_trace("type: protocol focus failed", "index", node.Index, "error", err)

	if err := remoteCall(p, node, `function() { this.focus(); }`); err == nil {
		return nil
	} else {
		L_trace("type: remote focus failed", "index", node.Index, "error", err)
	}

	if err := remoteCall(p, node, `function() { this.click(); this.focus(); }`); err == nil {
		return nil
	} else {
		L_trace("type: remote click+focus failed", "index", node.Index, "error", err)
	}

	vp, verr := pageViewport(page)
	if verr == nil {
		if pt, _, ok := resolveClickPoint(page, node, vp); ok {
			if derr := dispatchClick(page, pt, 0); derr == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("focus strategies exhausted for element [%d]", node.Index)
}

// clearElement empties the element's value, firing input and change so
// framework listeners notice.
func clearElement(page *rod.Page, node *dom.ElementNode) error {
	return remoteCall(page.Timeout(stageTimeout), node, `function() {
		if ('value' in this) {
			this.value = '';
		} else if (this.isContentEditable) {
			this.textContent = '';
		}
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`)
}

// remoteCall runs a zero-argument function on the element's remote object.
func remoteCall(page *rod.Page, node *dom.ElementNode, fn string) error {
	obj, err := resolveRemoteObject(page, node)
	if err != nil {
		return err
	}
	res, err := proto.RuntimeCallFunctionOn{
		ObjectID:            obj,
		FunctionDeclaration: fn,
	}.Call(page)
	if err != nil {
		return NewProtocolError("Runtime.callFunctionOn", err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("remote call threw: %s", res.ExceptionDetails.Text)
	}
	return nil
}

// typeChars dispatches each character as its own key down, char, key up
// triple with a small fixed delay, the way a person types. Runes outside
// the US layout are inserted as text instead.
func typeChars(page *rod.Page, text string) error {
	for _, r := range text {
		ev, ok := charEventFor(r)
		if !ok {
			if err := (proto.InputInsertText{Text: string(r)}).Call(page); err != nil {
				return NewProtocolError("Input.insertText", err)
			}
			time.Sleep(typeCharDelay)
			continue
		}
		if err := dispatchCharTriple(page, ev); err != nil {
			return err
		}
		time.Sleep(typeCharDelay)
	}
	return nil
}

// dispatchCharTriple sends the rawKeyDown/char/keyUp sequence for one rune.
func dispatchCharTriple(page *rod.Page, ev charEvent) error {
	mods := ev.Modifiers()

	down := proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeRawKeyDown,
		Key:                   ev.Key,
		Code:                  ev.Code,
		WindowsVirtualKeyCode: ev.KeyCode,
		NativeVirtualKeyCode:  ev.KeyCode,
		Modifiers:             mods,
	}
	if err := down.Call(page); err != nil {
		return NewProtocolError("Input.dispatchKeyEvent", err)
	}

	if ev.Text != "" {
		ch := proto.InputDispatchKeyEvent{
			Type:      proto.InputDispatchKeyEventTypeChar,
			Key:       ev.Key,
			Text:      ev.Text,
			Modifiers: mods,
		}
		if err := ch.Call(page); err != nil {
			return NewProtocolError("Input.dispatchKeyEvent", err)
		}
	}

	up := proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeKeyUp,
		Key:                   ev.Key,
		Code:                  ev.Code,
		WindowsVirtualKeyCode: ev.KeyCode,
		NativeVirtualKeyCode:  ev.KeyCode,
		Modifiers:             mods,
	}
	if err := up.Call(page); err != nil {
		return NewProtocolError("Input.dispatchKeyEvent", err)
	}
	return nil
}
