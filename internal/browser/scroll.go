package browser

import (
	"fmt"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// Scroll scrolls the page, or the nearest scrollable container of node when
// one is given. amount is in pixels; zero means one viewport height.
func (s *Session) Scroll(node *dom.ElementNode, down bool, amount int) error {
	page, err := s.CurrentPage()
	if err != nil {
		return err
	}

	px := amount
	if px <= 0 {
		if vp, err := pageViewport(page); err == nil && vp.Height > 0 {
			px = int(vp.Height)
		} else {
			px = 720
		}
	}
	dy := px
	if !down {
		dy = -px
	}

	if node == nil || node.IsPage() {
		if _, err := page.Timeout(stageTimeout).Eval(fmt.Sprintf(`window.scrollBy(0, %d)`, dy)); err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		L_debug("browser: scrolled page", "dy", dy)
		return nil
	}

	// Walk up from the element to the nearest ancestor that can actually
	// scroll, falling back to the window when none exists.
	err = remoteCall(page.Timeout(stageTimeout), node, fmt.Sprintf(`function() {
		let el = this;
		while (el) {
			const style = window.getComputedStyle(el);
			const scrollable = el.scrollHeight > el.clientHeight &&
				style.overflowY !== 'visible' && style.overflowY !== 'hidden';
			if (scrollable) {
				el.scrollBy(0, %d);
				return;
			}
			el = el.parentElement;
		}
		window.scrollBy(0, %d);
	}`, dy, dy))
	if err != nil {
		return fmt.Errorf("scroll failed for element [%d]: %w", node.Index, err)
	}
	L_debug("browser: scrolled container", "index", node.Index, "dy", dy)
	return nil
}

// ScrollToText scrolls the first text node containing text into view.
// The match is case-insensitive.
func (s *Session) ScrollToText(text string) error {
	page, err := s.CurrentPage()
	if err != nil {
		return err
	}

	res, err := page.Timeout(stageTimeout).Eval(`(needle) => {
		const lower = needle.toLowerCase();
		const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		let node;
		while ((node = walker.nextNode())) {
			if (!node.textContent.toLowerCase().includes(lower)) {
				continue;
			}
			const el = node.parentElement;
			if (el) {
				el.scrollIntoView({behavior: 'instant', block: 'center'});
				return true;
			}
		}
		return false;
	}`, text)
	if err != nil {
		return fmt.Errorf("scroll to text failed: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("text %q not found on page", truncateText(text, 60))
	}
	L_debug("browser: scrolled to text", "text", truncateText(text, 40))
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
