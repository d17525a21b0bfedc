// Package gsheets implements report.Sheets with the Google Sheets and Drive
// APIs.
package gsheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/report"
)

const mimeTypeSpreadsheet = "application/vnd.google-apps.spreadsheet"

// Location returns the folder a customer's report lives in and its title.
type Location func(c *domain.Customer) (folderID, name string)

// InCustomerFolder keeps the report next to the customer's statements.
func InCustomerFolder(name string) Location {
	return func(c *domain.Customer) (string, string) {
		return c.FolderID, name
	}
}

// InSharedFolder keeps every report in one folder, suffixed with the customer id.
func InSharedFolder(folderID, name string) Location {
	return func(c *domain.Customer) (string, string) {
		return folderID, name + " - " + c.ID
	}
}

// Client talks to Sheets and Drive on behalf of one worker.
type Client struct {
	sheets   *sheets.Service
	drive    *drive.Service
	locate   Location
	template [][]interface{}
}

var _ report.Sheets = (*Client)(nil)

// New creates a client. An empty credentialsFile uses Application Default
// Credentials. New Budget sheets are seeded with set.
func New(ctx context.Context, credentialsFile string, set domain.CategorySet, locate Location) (*Client, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope, drive.DriveScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	sheetsSvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gsheets.New: create sheets service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gsheets.New: create drive service: %w", err)
	}

	return &Client{
		sheets:   sheetsSvc,
		drive:    driveSvc,
		locate:   locate,
		template: report.BudgetTemplate(set),
	}, nil
}

// GetOrCreateReport finds the report by title in its folder, or creates and
// initialises it. The id is cached on c.
func (cl *Client) GetOrCreateReport(ctx context.Context, c *domain.Customer) (string, error) {
	if c.ReportID != "" {
		return c.ReportID, nil
	}

	folderID, name := cl.locate(c)
	res, err := cl.drive.Files.List().
		Q(reportQuery(folderID, name)).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("GetOrCreateReport: search %q: %w", name, err)
	}
	if len(res.Files) > 0 {
		c.ReportID = res.Files[0].Id
		return c.ReportID, nil
	}

	id, err := cl.create(ctx, folderID, name)
	if err != nil {
		return "", err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("customer_id", c.ID).
		Str("report_id", id).
		Str("name", name).
		Msg("Created report spreadsheet")
	c.ReportID = id
	return id, nil
}

func (cl *Client) create(ctx context.Context, folderID, name string) (string, error) {
	ss, err := cl.sheets.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: name},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: report.BudgetSheet}},
			{Properties: &sheets.SheetProperties{Title: report.RawSheet}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("GetOrCreateReport: create spreadsheet: %w", err)
	}
	id := ss.SpreadsheetId

	if folderID != "" {
		f, err := cl.drive.Files.Get(id).Fields("parents").SupportsAllDrives(true).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("GetOrCreateReport: get parents: %w", err)
		}
		_, err = cl.drive.Files.Update(id, &drive.File{}).
			AddParents(folderID).
			RemoveParents(strings.Join(f.Parents, ",")).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("GetOrCreateReport: move to folder: %w", err)
		}
	}

	_, err = cl.sheets.Spreadsheets.Values.BatchUpdate(id, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data: []*sheets.ValueRange{
			{Range: report.BudgetSheet + "!A1", Values: cl.template},
			{Range: report.RawSheet + "!A1", Values: [][]interface{}{report.RawHeader}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("GetOrCreateReport: write headers: %w", err)
	}
	return id, nil
}

// ReadRange returns formatted cell values as strings.
func (cl *Client) ReadRange(ctx context.Context, reportID, rng string) ([][]string, error) {
	resp, err := cl.sheets.Spreadsheets.Values.Get(reportID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ReadRange: %s: %w", rng, err)
	}
	return toStrings(resp.Values), nil
}

// WriteRange overwrites rng with values, parsed as if typed by a user.
func (cl *Client) WriteRange(ctx context.Context, reportID, rng string, values [][]interface{}) error {
	_, err := cl.sheets.Spreadsheets.Values.Update(reportID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("WriteRange: %s: %w", rng, err)
	}
	return nil
}

// AppendRows inserts rows after the sheet's last data row.
func (cl *Client) AppendRows(ctx context.Context, reportID, sheet string, values [][]interface{}) error {
	_, err := cl.sheets.Spreadsheets.Values.Append(reportID, sheet+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("AppendRows: %s: %w", sheet, err)
	}
	return nil
}

func reportQuery(folderID, name string) string {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escape(name), mimeTypeSpreadsheet)
	if folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escape(folderID))
	}
	return q
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out
}
