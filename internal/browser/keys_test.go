package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/input"
)

func TestCharEventForLayout(t *testing.T) {
	tests := []struct {
		name    string
		r       rune
		key     string
		code    string
		keyCode int
		shift   bool
	}{
		{"lowercase letter", 'a', "a", "KeyA", 65, false},
		{"uppercase letter", 'G', "G", "KeyG", 71, true},
		{"digit", '7', "7", "Digit7", 55, false},
		{"shifted digit symbol", '@', "@", "Digit2", 50, true},
		{"space", ' ', " ", "Space", 32, false},
		{"newline is enter", '\n', "Enter", "Enter", 13, false},
		{"punctuation", '.', ".", "Period", 190, false},
		{"shifted punctuation", '?', "?", "Slash", 191, true},
		{"quote", '"', "\"", "Quote", 222, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := charEventFor(tt.r)
			if !ok {
				t.Fatalf("charEventFor(%q) not resolvable", tt.r)
			}
			if ev.Key != tt.key || ev.Code != tt.code || ev.KeyCode != tt.keyCode {
				t.Errorf("charEventFor(%q) = %q/%q/%d, want %q/%q/%d",
					tt.r, ev.Key, ev.Code, ev.KeyCode, tt.key, tt.code, tt.keyCode)
			}
			if ev.Shift != tt.shift {
				t.Errorf("charEventFor(%q) shift = %v, want %v", tt.r, ev.Shift, tt.shift)
			}
		})
	}
}

func TestCharEventForNonLayoutRunes(t *testing.T) {
	for _, r := range []rune{'é', '漢', '€', '\x00'} {
		if _, ok := charEventFor(r); ok {
			t.Errorf("charEventFor(%q) resolvable, want text insertion fallback", r)
		}
	}
}

func TestCharEventModifiers(t *testing.T) {
	ev, _ := charEventFor('A')
	if ev.Modifiers() != ModifierShift {
		t.Errorf("uppercase modifiers = %d, want %d", ev.Modifiers(), ModifierShift)
	}
	ev, _ = charEventFor('a')
	if ev.Modifiers() != 0 {
		t.Errorf("lowercase modifiers = %d, want 0", ev.Modifiers())
	}
}

func TestParseKeyCombo(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		mods    []input.Key
		key     input.Key
		wantErr bool
	}{
		{"named key", "Enter", nil, input.Enter, false},
		{"alias", "Esc", nil, input.Escape, false},
		{"case insensitive", "arrowdown", nil, input.ArrowDown, false},
		{"single modifier combo", "Control+a", []input.Key{input.ControlLeft}, input.Key('a'), false},
		{"meta alias", "Cmd+c", []input.Key{input.MetaLeft}, input.Key('c'), false},
		{"stacked modifiers", "Shift+Alt+Tab", []input.Key{input.ShiftLeft, input.AltLeft}, input.Tab, false},
		{"bare modifier", "Shift", nil, input.ShiftLeft, false},
		{"unknown key", "Control+Bogus", nil, 0, true},
		{"unknown modifier", "Hyper+a", nil, 0, true},
		{"empty", "", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combo, err := ParseKeyCombo(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKeyCombo(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKeyCombo(%q): %v", tt.in, err)
			}
			if combo.Key != tt.key {
				t.Errorf("key = %q, want %q", combo.Key, tt.key)
			}
			if len(combo.Modifiers) != len(tt.mods) {
				t.Fatalf("modifiers = %v, want %v", combo.Modifiers, tt.mods)
			}
			for i, m := range tt.mods {
				if combo.Modifiers[i] != m {
					t.Errorf("modifier[%d] = %q, want %q", i, combo.Modifiers[i], m)
				}
			}
		})
	}
}

func TestParseKeysSplitsChords(t *testing.T) {
	combos, err := ParseKeys("Control+a Backspace")
	if err != nil {
		t.Fatalf("ParseKeys: %v", err)
	}
	if len(combos) != 2 {
		t.Fatalf("got %d chords, want 2", len(combos))
	}
	if combos[0].Key != input.Key('a') || len(combos[0].Modifiers) != 1 {
		t.Errorf("first chord = %+v", combos[0])
	}
	if combos[1].Key != input.Backspace || len(combos[1].Modifiers) != 0 {
		t.Errorf("second chord = %+v", combos[1])
	}
}

func TestAcceleratorModifierIsCtrlOrMeta(t *testing.T) {
	m := AcceleratorModifier()
	if m != ModifierCtrl && m != ModifierMeta {
		t.Errorf("AcceleratorModifier() = %d, want ctrl or meta bit", m)
	}
}
