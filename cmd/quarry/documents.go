package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"quarry/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Upload and process documents (.pdf, .xlsx, .xls)",
	Long: `Uploads files into the archive and processes them synchronously:
chunking for retrieval, and for spreadsheets, ingestion into the
deterministic analytics engine.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			doc, err := app.docs.Upload(ctx, filepath.Base(path), content)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := app.docs.Process(ctx, doc); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			stored, err := app.st.GetDocument(ctx, doc.ID)
			if err != nil {
				return err
			}
			if stored.Status == types.StatusError {
				fmt.Printf("%s: error: %s\n", doc.Filename, stored.ErrorMessage)
				continue
			}
			fmt.Printf("%s: %s (%s)\n", doc.Filename, stored.Status, doc.ID)
		}
		return nil
	},
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage uploaded documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		docs, err := app.st.ListDocuments(ctx)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents uploaded.")
			return nil
		}

		fmt.Printf("%-36s  %-6s  %-10s  %s\n", "ID", "TYPE", "STATUS", "FILENAME")
		for _, doc := range docs {
			fmt.Printf("%-36s  %-6s  %-10s  %s\n", doc.ID, doc.DocType, doc.Status, doc.Filename)
			if doc.Status == types.StatusError && doc.ErrorMessage != "" {
				fmt.Printf("%-36s  %-6s  %-10s  %s\n", "", "", "", "error: "+doc.ErrorMessage)
			}
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a document and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		id := args[0]
		doc, err := app.st.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document not found: %s", id)
		}
		if err := app.docs.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s (%s)\n", id, doc.Filename)
		return nil
	},
}

func init() {
	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd)
}
