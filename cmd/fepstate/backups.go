package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallnest/fepstate/storage"
)

var (
	storageDirFlag string
	keepLast       int
	olderThanDays  int
	forceClean     bool
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage timestamped backups in the storage directory",
	Long: `List and clean the timestamped backup copies the storage directory
keeps for every file written or copied into it.`,
}

var listBackupsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all backups",
	RunE:  runListBackups,
}

var cleanBackupsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old backups",
	Long: `Delete old backups based on a retention policy: keep only the last N
backups per original file, or delete backups older than N days.`,
	RunE: runCleanBackups,
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(listBackupsCmd)
	backupsCmd.AddCommand(cleanBackupsCmd)

	backupsCmd.PersistentFlags().StringVar(&storageDirFlag, "dir", "", "Storage base directory (default: XDG config home)")

	cleanBackupsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N backups per file (0 = keep all)")
	cleanBackupsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete backups older than N days (0 = no age limit)")
	cleanBackupsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStorage() (*storage.Directory, error) {
	base := storageDirFlag
	if base == "" {
		base = cfg.StorageDir
	}
	return storage.New(base)
}

func runListBackups(cmd *cobra.Command, args []string) error {
	dir, err := openStorage()
	if err != nil {
		return fmt.Errorf("failed to open storage directory: %w", err)
	}

	backups, err := dir.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKUP\tORIGINAL\tTIMESTAMP\tSIZE")
	fmt.Fprintln(w, "------\t--------\t---------\t----")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			b.Name,
			b.Original,
			b.Timestamp.Format("2006-01-02 15:04:05"),
			formatBytes(b.Size),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal backups: %d (in %s)\n", len(backups), dir.Path())
	return nil
}

func runCleanBackups(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	dir, err := openStorage()
	if err != nil {
		return fmt.Errorf("failed to open storage directory: %w", err)
	}

	backups, err := dir.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		fmt.Println("No backups to clean.")
		return nil
	}

	toDelete := selectBackupsForDeletion(backups, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Println("No backups match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d backup(s) to delete:\n", len(toDelete))
	for _, b := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n", b.Name, b.Timestamp.Format("2006-01-02 15:04:05"), formatBytes(b.Size))
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, b := range toDelete {
		if err := dir.RemoveBackup(b.Name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to delete %s: %v\n", b.Name, err)
			failed++
		} else {
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d backup(s), %d failed.\n", deleted, failed)
	return nil
}

// selectBackupsForDeletion applies the retention policy. Backups are grouped
// by their original file name for the keep-last rule; ListBackups returns
// them oldest first, so the tail of each group is kept.
func selectBackupsForDeletion(backups []storage.BackupInfo, keepLast, olderThanDays int) []storage.BackupInfo {
	var toDelete []storage.BackupInfo
	marked := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, b := range backups {
			if b.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, b)
				marked[b.Name] = true
			}
		}
	}

	if keepLast > 0 {
		byOriginal := make(map[string][]storage.BackupInfo)
		for _, b := range backups {
			byOriginal[b.Original] = append(byOriginal[b.Original], b)
		}
		for _, group := range byOriginal {
			if len(group) <= keepLast {
				continue
			}
			for _, b := range group[:len(group)-keepLast] {
				if !marked[b.Name] {
					toDelete = append(toDelete, b)
					marked[b.Name] = true
				}
			}
		}
	}

	return toDelete
}
