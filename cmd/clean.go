package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cleanDB    bool
	cleanTemp  bool
	cleanForce bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover temp frames and, optionally, job history",
	Long:  "Deletes the mirage temp directory. With --history it also drops the job history tables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cleanDB && !cleanTemp {
			cleanTemp = true
		}
		reader := bufio.NewReader(os.Stdin)

		if cleanTemp {
			dir := filepath.Join(opts.TempRoot, "mirage")
			if cleanForce || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Delete all temp frames in %s?", dir)) {
				fmt.Println("🗑️  Clearing temp frames...")
				removeDir(dir)
			}
		}

		if cleanDB {
			if err := requireDB(); err != nil {
				return err
			}
			if cleanForce || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the job history tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset database: %w", err)
				}
			}
		}

		fmt.Println("✨ Clean complete.")
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanDB, "history", false, "Drop the job history tables")
	cleanCmd.Flags().BoolVar(&cleanTemp, "temp", false, "Delete temp frame directories (default when no flag is given)")
	cleanCmd.Flags().BoolVarP(&cleanForce, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(cleanCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
