package domain

import "time"

// Customer is one tenant folder under the configured root.
//
// The handle fields are filled lazily during a cycle and are owned by the
// single worker processing the customer; a fresh Customer is built every cycle.
type Customer struct {
	ID       string // folder name, stable across cycles
	FolderID string

	ArchiveID    string
	ErrorID      string
	DuplicatesID string
	ReportID     string
}

// Document is one source file found directly inside a customer folder.
type Document struct {
	ID          string
	Name        string
	Size        int64
	CreatedTime time.Time
	MimeType    string
}
