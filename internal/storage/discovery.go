package storage

import (
	"context"
	"fmt"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
)

// Reserved folder names.
const (
	DefaultOutputFolder = "Outputs"
	ArchiveFolder       = "Archive"
	ErrorFolder         = "Error"
	DuplicatesFolder    = "Duplicates"
)

// Discovery lists customers under the root folder and the statements waiting
// in each customer folder.
type Discovery struct {
	store        Storage
	rootID       string
	outputFolder string
}

// NewDiscovery creates a Discovery rooted at rootID. The output folder name is
// never treated as a customer.
func NewDiscovery(store Storage, rootID, outputFolder string) *Discovery {
	if outputFolder == "" {
		outputFolder = DefaultOutputFolder
	}
	return &Discovery{store: store, rootID: rootID, outputFolder: outputFolder}
}

// Customers returns one fresh Customer per folder under the root.
func (d *Discovery) Customers(ctx context.Context) ([]*domain.Customer, error) {
	folders, err := d.store.ListFolders(ctx, d.rootID, []string{d.outputFolder})
	if err != nil {
		return nil, fmt.Errorf("Customers: list root %q: %w", d.rootID, err)
	}

	customers := make([]*domain.Customer, 0, len(folders))
	for _, f := range folders {
		customers = append(customers, &domain.Customer{ID: f.Name, FolderID: f.ID})
	}

	log := logger.FromContext(ctx)
	log.Debug().Int("customers", len(customers)).Msg("Discovered customers")
	return customers, nil
}

// Scan lists PDF statements directly inside the customer folder. Subfolders
// are never descended into, so Archive/Error/Duplicates are not rescanned.
func (d *Discovery) Scan(ctx context.Context, c *domain.Customer) ([]domain.Document, error) {
	docs, err := d.store.ListFiles(ctx, c.FolderID, MimeTypePDF)
	if err != nil {
		return nil, fmt.Errorf("Scan: list files for %q: %w", c.ID, err)
	}
	return docs, nil
}

// EnsureSubfolders finds or creates the Archive, Error and Duplicates folders
// and caches their ids on c. Handles already set are left alone.
func EnsureSubfolders(ctx context.Context, store Storage, c *domain.Customer) error {
	targets := []struct {
		name   string
		handle *string
	}{
		{ArchiveFolder, &c.ArchiveID},
		{ErrorFolder, &c.ErrorID},
		{DuplicatesFolder, &c.DuplicatesID},
	}

	for _, t := range targets {
		if *t.handle != "" {
			continue
		}

		id, found, err := store.FindFolder(ctx, c.FolderID, t.name)
		if err != nil {
			return fmt.Errorf("EnsureSubfolders: find %s for %q: %w", t.name, c.ID, err)
		}
		if !found {
			id, err = store.CreateFolder(ctx, c.FolderID, t.name)
			if err != nil {
				return fmt.Errorf("EnsureSubfolders: create %s for %q: %w", t.name, c.ID, err)
			}
			log := logger.FromContext(ctx)
			log.Info().
				Str("customer_id", c.ID).
				Str("folder", t.name).
				Msg("Created customer subfolder")
		}
		*t.handle = id
	}
	return nil
}
