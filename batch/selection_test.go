package batch

import (
	"testing"

	"fluxfill/core"
)

func TestSelectItems_BatchModeUsesSelection(t *testing.T) {
	ws, items := newLayeredWorkspace(t, 3)
	if err := ws.SetSelection([]string{items[2].ID, items[0].ID}); err != nil {
		t.Fatal(err)
	}

	got, err := SelectItems(ws, Selection{BatchMode: true})
	if err != nil {
		t.Fatalf("SelectItems() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "L1" || got[1].Name != "L3" {
		t.Errorf("items = %+v, want L1 and L3", got)
	}
	if got[0].Doc != ws {
		t.Error("item does not reference the document")
	}
}

func TestSelectItems_BatchModeNeverFallsBack(t *testing.T) {
	ws, _ := newLayeredWorkspace(t, 2)

	// An active layer exists, yet an empty batch selection is an error.
	if _, ok := ws.ActiveLayer(); !ok {
		t.Fatal("workspace has no active layer")
	}
	_, err := SelectItems(ws, Selection{BatchMode: true})
	if core.GetErrorCode(err) != core.ErrCodeNoSelection {
		t.Errorf("error = %v, want NO_SELECTION", err)
	}
}

func TestSelectItems_SingleModeUsesActive(t *testing.T) {
	ws, items := newLayeredWorkspace(t, 2)
	ws.SetSelection([]string{items[0].ID, items[1].ID})
	if err := ws.SetActive(items[1].ID); err != nil {
		t.Fatal(err)
	}

	got, err := SelectItems(ws, Selection{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != items[1].ID {
		t.Errorf("items = %+v, want only the active layer", got)
	}
}

func TestSelectItems_Refs(t *testing.T) {
	ws, items := newLayeredWorkspace(t, 3)

	got, err := SelectItems(ws, Selection{BatchMode: true, Refs: []string{"L2", items[0].ID, "L2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "L2" || got[1].Name != "L1" {
		t.Errorf("items = %+v, want L2 then L1 without duplicates", got)
	}

	got, err = SelectItems(ws, Selection{Refs: []string{"L3", "L1"}})
	if err != nil || len(got) != 1 || got[0].Name != "L3" {
		t.Errorf("single mode refs = %+v, %v", got, err)
	}

	_, err = SelectItems(ws, Selection{BatchMode: true, Refs: []string{"L9"}})
	if core.GetErrorCode(err) != core.ErrCodeUnknownLayer {
		t.Errorf("unknown ref error = %v", err)
	}
}

func TestSelectItems_AmbiguousName(t *testing.T) {
	ws, items := newLayeredWorkspace(t, 1)
	dup, _ := ws.CreateLayer("L1")
	if err := ws.InsertLayerAbove(dup, items[0].ID); err != nil {
		t.Fatal(err)
	}

	_, err := SelectItems(ws, Selection{BatchMode: true, Refs: []string{"L1"}})
	if core.GetErrorCode(err) != core.ErrCodeUnknownLayer {
		t.Errorf("ambiguous name error = %v", err)
	}
	if _, err := SelectItems(ws, Selection{BatchMode: true, Refs: []string{dup}}); err != nil {
		t.Errorf("selecting by ID failed: %v", err)
	}
}

func TestSelectItems_NoDocument(t *testing.T) {
	_, err := SelectItems(nil, Selection{})
	if core.GetErrorCode(err) != core.ErrCodeNoDocument {
		t.Errorf("error = %v", err)
	}
}
