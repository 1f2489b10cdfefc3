package browser

import (
	"fmt"
	"os"
	"path/filepath"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"

	"github.com/go-rod/rod/lib/proto"
	"github.com/repomirrorhq/better-use-sub001/internal/dom"
)

// Upload attaches local files to a file input element.
func (s *Session) Upload(node *dom.ElementNode, paths []string) error {
	if node == nil {
		return &ElementNotInteractableError{Kind: KindNotFound, Reason: "no such element"}
	}
	if !node.IsFileInput() {
		return fmt.Errorf("element [%d]<%s> is not a file input", node.Index, node.TagName)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files to upload")
	}

	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", p, err)
		}
		info, err := os.Stat(a)
		if err != nil {
			return fmt.Errorf("file not readable: %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("cannot upload a directory: %s", p)
		}
		abs = append(abs, a)
	}

	page, err := s.CurrentPage()
	if err != nil {
		return err
	}

	scrollNodeIntoView(page, node)

	err = proto.DOMSetFileInputFiles{
		Files:         abs,
		BackendNodeID: node.BackendNodeID,
	}.Call(page.Timeout(stageTimeout))
	if err != nil {
		return NewProtocolError("DOM.setFileInputFiles", err)
	}
	L_info("browser: attached files to input", "index", node.Index, "files", len(abs))
	return nil
}
