// ABOUTME: In-memory browser model that answers extension actions like the real extension.
// ABOUTME: Backs cmd/fake-extension and end-to-end tests of the host.

package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NoGroup is the group id of an ungrouped tab.
const NoGroup = -1

// GroupInfo describes a tab group.
type GroupInfo struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

// Tab is one browser tab as the extension reports it.
type Tab struct {
	ID        int        `json:"id"`
	WindowID  int        `json:"windowId"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	GroupID   int        `json:"groupId"`
	GroupInfo *GroupInfo `json:"groupInfo"`
}

// GroupChange is one entry of Changes.Groups.
type GroupChange struct {
	TabIDs []int  `json:"tabIds"`
	Color  string `json:"color,omitempty"`
}

// Changes is a staged cleanup awaiting user approval.
type Changes struct {
	ToClose []int                  `json:"toClose,omitempty"`
	Groups  map[string]GroupChange `json:"groups,omitempty"`
}

// Browser holds tabs and groups.
type Browser struct {
	mu      sync.Mutex
	tabs    []Tab
	groups  map[int]GroupInfo
	nextGID int
	pending *Changes
}

// New creates a Browser with the given tabs. Tabs without a group get NoGroup.
func New(tabs []Tab) *Browser {
	b := &Browser{groups: make(map[int]GroupInfo), nextGID: 1}
	for _, t := range tabs {
		if t.GroupID == 0 {
			t.GroupID = NoGroup
		}
		b.tabs = append(b.tabs, t)
	}
	return b
}

// Tabs returns a snapshot of all tabs with their group info filled in.
func (b *Browser) Tabs() []Tab {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		t.GroupInfo = nil
		if g, ok := b.groups[t.GroupID]; ok {
			t.GroupInfo = &g
		}
		out = append(out, t)
	}
	return out
}

// Close removes the given tabs and returns how many existed.
func (b *Browser) Close(ids []int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked(ids)
}

func (b *Browser) closeLocked(ids []int) int {
	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := b.tabs[:0]
	closed := 0
	for _, t := range b.tabs {
		if drop[t.ID] {
			closed++
			continue
		}
		kept = append(kept, t)
	}
	b.tabs = kept
	return closed
}

// CreateGroup groups ids under a new titled group and returns its id.
func (b *Browser) CreateGroup(name, color string, ids []int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createGroupLocked(name, color, ids)
}

func (b *Browser) createGroupLocked(name, color string, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, errors.New("No tab IDs provided")
	}
	if color == "" {
		color = "blue"
	}
	gid := b.nextGID
	b.nextGID++
	b.groups[gid] = GroupInfo{Title: name, Color: color}
	if err := b.assignLocked(gid, ids); err != nil {
		delete(b.groups, gid)
		return 0, err
	}
	return gid, nil
}

// AddToGroup moves ids into an existing group.
func (b *Browser) AddToGroup(gid int, ids []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[gid]; !ok {
		return fmt.Errorf("No group with id: %d", gid)
	}
	return b.assignLocked(gid, ids)
}

func (b *Browser) assignLocked(gid int, ids []int) error {
	index := make(map[int]int, len(b.tabs))
	for i, t := range b.tabs {
		index[t.ID] = i
	}
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			return fmt.Errorf("No tab with id: %d", id)
		}
	}
	for _, id := range ids {
		b.tabs[index[id]].GroupID = gid
	}
	return nil
}

// Handle runs one extension action and returns the result value the extension
// would send back. Failures come back as {"error": "..."}, never as a Go error.
func (b *Browser) Handle(action string, payload json.RawMessage) any {
	result, err := b.handle(action, payload)
	if err != nil {
		return map[string]string{"error": err.Error()}
	}
	return result
}

func (b *Browser) handle(action string, payload json.RawMessage) (any, error) {
	var p struct {
		TabIDs  []int  `json:"tabIds"`
		Name    string `json:"name"`
		Color   string `json:"color"`
		GroupID int    `json:"groupId"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
	}

	switch action {
	case "getTabs":
		return b.Tabs(), nil
	case "closeTabs":
		b.Close(p.TabIDs)
		return map[string]int{"closed": len(p.TabIDs)}, nil
	case "createGroup":
		gid, err := b.CreateGroup(p.Name, p.Color, p.TabIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"groupId": gid, "name": p.Name, "tabIds": p.TabIDs, "success": true}, nil
	case "addToGroup":
		if err := b.AddToGroup(p.GroupID, p.TabIDs); err != nil {
			return nil, err
		}
		return map[string]int{"groupId": p.GroupID, "added": len(p.TabIDs)}, nil
	case "previewChanges":
		var changes Changes
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &changes); err != nil {
				return nil, err
			}
		}
		b.mu.Lock()
		b.pending = &changes
		b.mu.Unlock()
		return map[string]string{"status": "preview_opened"}, nil
	case "applyChanges":
		return b.apply()
	default:
		return nil, fmt.Errorf("Unknown action: %s", action)
	}
}

func (b *Browser) apply() (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == nil {
		return nil, errors.New("No pending changes")
	}
	changes := b.pending
	b.pending = nil

	closed := 0
	if len(changes.ToClose) > 0 {
		b.closeLocked(changes.ToClose)
		closed = len(changes.ToClose)
	}

	names := make([]string, 0, len(changes.Groups))
	for name := range changes.Groups {
		names = append(names, name)
	}
	sort.Strings(names)

	created := 0
	for _, name := range names {
		g := changes.Groups[name]
		if len(g.TabIDs) == 0 {
			continue
		}
		if _, err := b.createGroupLocked(name, g.Color, g.TabIDs); err != nil {
			return nil, err
		}
		created++
	}
	return map[string]int{"closed": closed, "groupsCreated": created}, nil
}

var newTabPrefixes = []string{"edge://newtab/", "chrome://newtab/", "about:newtab", "about:blank"}

// Duplicates returns the ids of tabs worth closing: every new-tab page, and
// every tab after the first with the same URL.
func Duplicates(tabs []Tab) []int {
	seen := make(map[string]bool, len(tabs))
	var ids []int
	for _, t := range tabs {
		if isNewTab(t.URL) {
			ids = append(ids, t.ID)
			continue
		}
		if seen[t.URL] {
			ids = append(ids, t.ID)
			continue
		}
		seen[t.URL] = true
	}
	return ids
}

func isNewTab(url string) bool {
	for _, prefix := range newTabPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
