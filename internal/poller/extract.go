package poller

import (
	"github.com/gaspardpetit/pixrelay/internal/engine"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

// Extract returns view URLs for the images of the first output node, in
// numeric node order, that produced any. It returns an empty, non-nil slice
// when no node produced images.
func Extract(outputs map[string]engine.NodeOutput, viewURL func(engine.Image) string) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	workflow.SortIDs(ids)
	for _, id := range ids {
		imgs := outputs[id].Images
		if len(imgs) == 0 {
			continue
		}
		urls := make([]string, 0, len(imgs))
		for _, img := range imgs {
			urls = append(urls, viewURL(img))
		}
		return urls
	}
	return []string{}
}
