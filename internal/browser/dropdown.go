package browser

import (
	"encoding/json"
	"fmt"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// DropdownOptions reads the options of a select element without opening it.
func (s *Session) DropdownOptions(node *dom.ElementNode) ([]DropdownOption, error) {
	if node == nil {
		return nil, &ElementNotInteractableError{Kind: KindNotFound, Reason: "no such element"}
	}
	if !node.IsSelect() {
		return nil, fmt.Errorf("element [%d]<%s> is not a select element", node.Index, node.TagName)
	}

	page, err := s.CurrentPage()
	if err != nil {
		return nil, err
	}

	raw, err := remoteEvalJSON(page.Timeout(stageTimeout), node, `function() {
		const opts = [];
		for (let i = 0; i < this.options.length; i++) {
			const o = this.options[i];
			opts.push({
				index: i,
				label: o.label || o.text || '',
				value: o.value,
				selected: o.selected,
			});
		}
		return opts;
	}`)
	if err != nil {
		return nil, fmt.Errorf("reading options of element [%d]: %w", node.Index, err)
	}

	var options []DropdownOption
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, fmt.Errorf("parsing options of element [%d]: %w", node.Index, err)
	}
	L_debug("browser: read dropdown options", "index", node.Index, "count", len(options))
	return options, nil
}

// DropdownSelect picks the option whose visible label matches label. When no
// label matches it retries treating label as the option's value attribute.
func (s *Session) DropdownSelect(node *dom.ElementNode, label string) error {
	if node == nil {
		return &ElementNotInteractableError{Kind: KindNotFound, Reason: "no such element"}
	}
	if !node.IsSelect() {
		return fmt.Errorf("element [%d]<%s> is not a select element", node.Index, node.TagName)
	}

	page, err := s.CurrentPage()
	if err != nil {
		return err
	}

	scrollNodeIntoView(page, node)

	el, err := elementForNode(page.Timeout(stageTimeout), node)
	if err != nil {
		return err
	}

	if err := el.Select([]string{label}, true, rod.SelectorTypeText); err != nil {
		L_trace("browser: select by text failed, trying value", "index", node.Index, "label", label, "error", err)
		if err := el.Select([]string{fmt.Sprintf(`[value="%s"]`, label)}, true, rod.SelectorTypeCSSSector); err != nil {
			return fmt.Errorf("no option matching %q in element [%d]", label, node.Index)
		}
	}
	L_debug("browser: selected dropdown option", "index", node.Index, "label", label)
	return nil
}

// elementForNode wraps a backend node in a rod element handle.
func elementForNode(page *rod.Page, node *dom.ElementNode) (*rod.Element, error) {
	res, err := proto.DOMResolveNode{BackendNodeID: node.BackendNodeID}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeGone, err)
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return nil, ErrNodeGone
	}
	return page.ElementFromObject(res.Object)
}

// remoteEvalJSON runs a zero-argument function on the element's remote
// object and returns the result serialized as JSON text.
func remoteEvalJSON(page *rod.Page, node *dom.ElementNode, fn string) (string, error) {
	obj, err := resolveRemoteObject(page, node)
	if err != nil {
		return "", err
	}
	res, err := proto.RuntimeCallFunctionOn{
		ObjectID:            obj,
		FunctionDeclaration: fn,
		ReturnByValue:       true,
	}.Call(page)
	if err != nil {
		return "", NewProtocolError("Runtime.callFunctionOn", err)
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("remote call threw: %s", res.ExceptionDetails.Text)
	}
	if res.Result == nil {
		return "", fmt.Errorf("remote call returned no result")
	}
	return res.Result.Value.String(), nil
}
