package batch

import (
	"fluxfill/core"
	"fluxfill/document"
)

// Selection describes which layers the user asked for.
type Selection struct {
	// BatchMode processes every selected layer. Without it only the active
	// layer is processed, even if a selection exists.
	BatchMode bool

	// Refs are explicit layer IDs or names. In batch mode they replace the
	// document's own selection; otherwise at most the first names the
	// active layer.
	Refs []string
}

// SelectItems turns a selection into work items.
//
// Batch mode uses exactly the selected layers and never falls back to the
// active layer: an empty selection is an error. Single mode uses the active
// layer only. Unknown or ambiguous references are errors. Duplicates are
// dropped, keeping the first occurrence.
func SelectItems(doc document.Document, sel Selection) ([]WorkItem, error) {
	if doc == nil {
		return nil, core.ErrNoDocument()
	}

	var layers []document.Layer
	switch {
	case sel.BatchMode && len(sel.Refs) > 0:
		for _, ref := range sel.Refs {
			l, err := ResolveLayer(doc, ref)
			if err != nil {
				return nil, err
			}
			layers = append(layers, l)
		}
	case sel.BatchMode:
		layers = doc.SelectedLayers()
	case len(sel.Refs) > 0:
		l, err := ResolveLayer(doc, sel.Refs[0])
		if err != nil {
			return nil, err
		}
		layers = []document.Layer{l}
	default:
		if l, ok := doc.ActiveLayer(); ok {
			layers = []document.Layer{l}
		}
	}

	if len(layers) == 0 {
		return nil, core.ErrNoSelection(sel.BatchMode)
	}

	seen := make(map[string]bool, len(layers))
	items := make([]WorkItem, 0, len(layers))
	for _, l := range layers {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		items = append(items, WorkItem{ID: l.ID, Name: l.Name, Doc: doc})
	}
	return items, nil
}

// ResolveLayer finds a layer by ID, then by unique name.
func ResolveLayer(doc document.Document, ref string) (document.Layer, error) {
	if l, ok := doc.Layer(ref); ok {
		return l, nil
	}
	var matches []document.Layer
	for _, l := range doc.Layers() {
		if l.Name == ref {
			matches = append(matches, l)
		}
	}
	switch len(matches) {
	case 0:
		return document.Layer{}, core.ErrUnknownLayer(ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, l := range matches {
			ids[i] = l.ID
		}
		return document.Layer{}, core.ErrAmbiguousLayer(ref, ids)
	}
}
