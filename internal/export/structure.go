package export

import (
	"sort"
	"strings"

	"github.com/starford/quire/internal/hierarchy"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/store"
)

const stackPrefix = "Stack:"

// NormalizeStack trims a legacy stack identifier and strips its namespace
// prefix, so "Stack:Work", " Work" and "Work" name the same stack.
func NormalizeStack(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(stackPrefix) && strings.EqualFold(s[:len(stackPrefix)], stackPrefix) {
		s = strings.TrimSpace(s[len(stackPrefix):])
	}
	return s
}

// structure derives the ordered stack and notebook records. The modern
// generation stores stacks as notebooks of type stack; the legacy generation
// names them in a free-text column and gets synthetic negative ids.
func structure(snap *store.Snapshot) ([]StackRecord, []NotebookRecord) {
	var nodes []hierarchy.Node
	if snap.Generation == store.GenerationLegacy {
		nodes = legacyNodes(snap.Notebooks)
	} else {
		for _, nb := range snap.Notebooks {
			nodes = append(nodes, hierarchy.Node{
				ID:        nb.ID,
				ParentID:  nb.ParentID,
				Kind:      string(nb.NotebookType),
				Name:      nb.Name,
				SortOrder: nb.SortOrder,
			})
		}
	}

	tree := hierarchy.New(nodes)
	stacks := []StackRecord{}
	notebooks := []NotebookRecord{}
	for _, n := range tree.Walk() {
		if n.Kind == string(models.NotebookTypeStack) {
			stacks = append(stacks, StackRecord{ID: n.ID, Name: n.Name, SortOrder: n.SortOrder})
			continue
		}
		rec := NotebookRecord{ID: n.ID, Name: n.Name, SortOrder: n.SortOrder}
		if n.ParentID != nil {
			if p, ok := tree.Get(*n.ParentID); ok && p.Kind == string(models.NotebookTypeStack) {
				id, name := p.ID, p.Name
				rec.StackID, rec.Stack = &id, &name
			}
		}
		notebooks = append(notebooks, rec)
	}
	return stacks, notebooks
}

func legacyNodes(nbs []store.LoadedNotebook) []hierarchy.Node {
	names := map[string]bool{}
	for _, nb := range nbs {
		if s := NormalizeStack(nb.Stack); s != "" {
			names[s] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for s := range names {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	ids := make(map[string]int64, len(sorted))
	nodes := make([]hierarchy.Node, 0, len(sorted)+len(nbs))
	for i, s := range sorted {
		id := -int64(i + 1)
		ids[s] = id
		nodes = append(nodes, hierarchy.Node{ID: id, Kind: string(models.NotebookTypeStack), Name: s})
	}
	for _, nb := range nbs {
		n := hierarchy.Node{
			ID:        nb.ID,
			Kind:      string(models.NotebookTypeNotebook),
			Name:      nb.Name,
			SortOrder: nb.SortOrder,
		}
		if id, ok := ids[NormalizeStack(nb.Stack)]; ok {
			n.ParentID = &id
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func tagRecords(tags []models.Tag) []TagRecord {
	out := []TagRecord{}
	for _, n := range hierarchy.New(hierarchy.FromTags(tags)).Walk() {
		out = append(out, TagRecord{ID: n.ID, Name: n.Name, ParentID: n.ParentID, SortOrder: n.SortOrder})
	}
	return out
}
