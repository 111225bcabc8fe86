package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Recognized settings keys.
const (
	SettingSidebarWidth       = "sidebarWidth"
	SettingListWidth          = "listWidth"
	SettingSelectedNotebookID = "selectedNotebookId"
	SettingSelectedTagID      = "selectedTagId"
	SettingSelectedNoteID     = "selectedNoteId"
	SettingExpandedNotebooks  = "expandedNotebooks"
	SettingExpandedTags       = "expandedTags"
	SettingListViewMode       = "listViewMode"
	SettingSortField          = "sortField"
	SettingSortDirection      = "sortDirection"
	SettingDeleteToTrash      = "deleteToTrash"
	SettingLanguage           = "language"
)

// SettingKeys lists every recognized key in a stable order.
var SettingKeys = []string{
	SettingSidebarWidth,
	SettingListWidth,
	SettingSelectedNotebookID,
	SettingSelectedTagID,
	SettingSelectedNoteID,
	SettingExpandedNotebooks,
	SettingExpandedTags,
	SettingListViewMode,
	SettingSortField,
	SettingSortDirection,
	SettingDeleteToTrash,
	SettingLanguage,
}

// Settings is the persisted UI state blob. Every field is optional; a nil
// field means "use the UI default".
type Settings struct {
	SidebarWidth       *int    `json:"sidebarWidth"`
	ListWidth          *int    `json:"listWidth"`
	SelectedNotebookID *int64  `json:"selectedNotebookId"`
	SelectedTagID      *int64  `json:"selectedTagId"`
	SelectedNoteID     *int64  `json:"selectedNoteId"`
	ExpandedNotebooks  []int64 `json:"expandedNotebooks"`
	ExpandedTags       []int64 `json:"expandedTags"`
	ListViewMode       *string `json:"listViewMode"`
	SortField          *string `json:"sortField"`
	SortDirection      *string `json:"sortDirection"`
	DeleteToTrash      *bool   `json:"deleteToTrash"`
	Language           *string `json:"language"`
}

// Validate checks enumerated and ranged fields. Nil fields are always valid.
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.SidebarWidth, validation.Min(0), validation.Max(4000)),
		validation.Field(&s.ListWidth, validation.Min(0), validation.Max(4000)),
		validation.Field(&s.ListViewMode, validation.In("list", "cards", "compact")),
		validation.Field(&s.SortField, validation.In("updatedAt", "title", "createdAt")),
		validation.Field(&s.SortDirection, validation.In("asc", "desc")),
		validation.Field(&s.Language, validation.Length(2, 16)),
	)
}
