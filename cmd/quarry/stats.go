package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quarry/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return err
		}

		fmt.Printf("Database:        %s\n", cfg.DBPath)
		fmt.Printf("Archived pages:  %d\n", stats.Pages)
		fmt.Printf("Cached answers:  %d\n", stats.Answers)
		fmt.Printf("Documents:       %d\n", stats.Documents)
		fmt.Printf("Chunks:          %d\n", stats.Chunks)
		fmt.Printf("Vectors:         %d\n", stats.Vectors)
		if st.VecAvailable() {
			fmt.Println("Vector search:   available")
		} else {
			fmt.Println("Vector search:   unavailable (keyword fallback)")
		}
		return nil
	},
}
