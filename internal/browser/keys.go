package browser

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"
)

// Modifier bit values used by devtools input events.
const (
	ModifierAlt   = 1
	ModifierCtrl  = 2
	ModifierMeta  = 4
	ModifierShift = 8
)

// typeCharDelay is the pause between per-character key event triples, small
// enough to stay fast but non-zero so page key handlers observe discrete
// keystrokes.
const typeCharDelay = 15 * time.Millisecond

// AcceleratorModifier returns the platform modifier that opens links in a
// new tab when held during a click.
func AcceleratorModifier() int {
	if runtime.GOOS == "darwin" {
		return ModifierMeta
	}
	return ModifierCtrl
}

// charEvent describes the synthetic rawKeyDown/char/keyUp triple for one
// typeable rune.
type charEvent struct {
	Key     string // DOM key value ("a", "Enter")
	Code    string // physical code ("KeyA", "Digit1")
	Text    string // text the char event inserts
	KeyCode int    // Windows virtual key code
	Shift   bool   // held shift produces this rune
}

// Modifiers returns the modifier mask for the triple.
func (c charEvent) Modifiers() int {
	if c.Shift {
		return ModifierShift
	}
	return 0
}

// shiftedDigits maps the symbol row produced by shift+digit. Index matches
// the digit.
const shiftedDigits = ")!@#$%^&*("

// punctuation maps unshifted US-layout punctuation to code and virtual key.
var punctuation = map[rune]struct {
	Code    string
	KeyCode int
}{
	';':  {"Semicolon", 186},
	'=':  {"Equal", 187},
	',':  {"Comma", 188},
	'-':  {"Minus", 189},
	'.':  {"Period", 190},
	'/':  {"Slash", 191},
	'`':  {"Backquote", 192},
	'[':  {"BracketLeft", 219},
	'\\': {"Backslash", 220},
	']':  {"BracketRight", 221},
	'\'': {"Quote", 222},
}

// shiftedPunctuation maps shift-layer punctuation to its base rune.
var shiftedPunctuation = map[rune]rune{
	':': ';',
	'+': '=',
	'<': ',',
	'_': '-',
	'>': '.',
	'?': '/',
	'~': '`',
	'{': '[',
	'|': '\\',
	'}': ']',
	'"': '\'',
}

// charEventFor resolves the key event triple for a rune. Returns false for
// runes outside the US layout; those are inserted as text instead of typed.
func charEventFor(r rune) (charEvent, bool) {
	switch {
	case r == '\n' || r == '\r':
		return charEvent{Key: "Enter", Code: "Enter", Text: "\r", KeyCode: 13}, true
	case r == '\t':
		return charEvent{Key: "Tab", Code: "Tab", KeyCode: 9}, true
	case r == ' ':
		return charEvent{Key: " ", Code: "Space", Text: " ", KeyCode: 32}, true
	case r >= 'a' && r <= 'z':
		return charEvent{
			Key:     string(r),
			Code:    "Key" + strings.ToUpper(string(r)),
			Text:    string(r),
			KeyCode: int(r) - 'a' + 'A',
		}, true
	case r >= 'A' && r <= 'Z':
		return charEvent{
			Key:     string(r),
			Code:    "Key" + string(r),
			Text:    string(r),
			KeyCode: int(r),
			Shift:   true,
		}, true
	case r >= '0' && r <= '9':
		return charEvent{
			Key:     string(r),
			Code:    "Digit" + string(r),
			Text:    string(r),
			KeyCode: int(r),
		}, true
	}

	if idx := strings.IndexRune(shiftedDigits, r); idx >= 0 {
		digit := rune('0' + idx)
		return charEvent{
			Key:     string(r),
			Code:    "Digit" + string(digit),
			Text:    string(r),
			KeyCode: int(digit),
			Shift:   true,
		}, true
	}
	if p, ok := punctuation[r]; ok {
		return charEvent{Key: string(r), Code: p.Code, Text: string(r), KeyCode: p.KeyCode}, true
	}
	if base, ok := shiftedPunctuation[r]; ok {
		p := punctuation[base]
		return charEvent{Key: string(r), Code: p.Code, Text: string(r), KeyCode: p.KeyCode, Shift: true}, true
	}

	return charEvent{}, false
}

// namedKeys maps key names accepted in send-keys strings to rod keys.
var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"up":         input.ArrowUp,
	"down":       input.ArrowDown,
	"left":       input.ArrowLeft,
	"right":      input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"space":      input.Space,
	"insert":     input.Insert,
	"f1":         input.F1,
	"f2":         input.F2,
	"f3":         input.F3,
	"f4":         input.F4,
	"f5":         input.F5,
	"f6":         input.F6,
	"f7":         input.F7,
	"f8":         input.F8,
	"f9":         input.F9,
	"f10":        input.F10,
	"f11":        input.F11,
	"f12":        input.F12,
}

// modifierKeys maps modifier names in combos to rod keys.
var modifierKeys = map[string]input.Key{
	"control": input.ControlLeft,
	"ctrl":    input.ControlLeft,
	"shift":   input.ShiftLeft,
	"alt":     input.AltLeft,
	"meta":    input.MetaLeft,
	"cmd":     input.MetaLeft,
	"command": input.MetaLeft,
}

// KeyCombo is one parsed send-keys chord: zero or more modifiers plus a key.
type KeyCombo struct {
	Modifiers []input.Key
	Key       input.Key
}

// ParseKeyCombo parses a chord like "Enter", "Control+A" or
// "Shift+Alt+Tab". A trailing single character is typed literally.
func ParseKeyCombo(s string) (KeyCombo, error) {
	var combo KeyCombo
	parts := strings.Split(s, "+")
	for i, part := range parts {
		name := strings.ToLower(strings.TrimSpace(part))
		last := i == len(parts)-1

		if !last {
			mod, ok := modifierKeys[name]
			if !ok {
				return KeyCombo{}, fmt.Errorf("unknown modifier %q in %q", part, s)
			}
			combo.Modifiers = append(combo.Modifiers, mod)
			continue
		}

		if key, ok := namedKeys[name]; ok {
			combo.Key = key
			return combo, nil
		}
		if mod, ok := modifierKeys[name]; ok && len(parts) == 1 {
			// A bare modifier press ("Shift").
			combo.Key = mod
			return combo, nil
		}
		runes := []rune(name)
		if len(runes) == 1 {
			combo.Key = input.Key(runes[0])
			return combo, nil
		}
		return KeyCombo{}, fmt.Errorf("unknown key %q (use Enter, Tab, ArrowDown, Control+A, ...)", part)
	}
	return KeyCombo{}, fmt.Errorf("empty key string")
}

// ParseKeys splits a send-keys string into chords. Chords are separated by
// spaces; use "Space" to press the space bar itself.
func ParseKeys(s string) ([]KeyCombo, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty key string")
	}
	combos := make([]KeyCombo, 0, len(fields))
	for _, f := range fields {
		combo, err := ParseKeyCombo(f)
		if err != nil {
			return nil, err
		}
		combos = append(combos, combo)
	}
	return combos, nil
}
