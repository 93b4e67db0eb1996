package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codekansas/ml-template/internal/config"
	"github.com/codekansas/ml-template/internal/experiment"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List run directories for an experiment",
	Long:  "Show each run directory of an experiment with its lock state",
	RunE:  listRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
	settings := config.New()
	if err := settings.Validate(); err != nil {
		return err
	}

	expDir := filepath.Join(settings.RunDir, settings.ExpName)
	entries, err := os.ReadDir(expDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "No runs found for experiment %s\n", settings.ExpName)
			return nil
		}
		return fmt.Errorf("failed to read experiment directory: %w", err)
	}

	type run struct {
		id    int
		dir   string
		locks []experiment.LockKind
	}
	var runs []run
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "run_") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "run_"))
		if err != nil {
			continue
		}
		dir := filepath.Join(expDir, entry.Name())
		locks, err := experiment.Locks(dir)
		if err != nil {
			return err
		}
		runs = append(runs, run{id: id, dir: dir, locks: locks})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].id < runs[j].id })

	for _, r := range runs {
		status := "unclaimed"
		if len(r.locks) > 0 {
			kinds := make([]string, len(r.locks))
			for i, kind := range r.locks {
				kinds[i] = string(kind)
			}
			status = strings.Join(kinds, ",")
		}
		fmt.Printf("run_%d\t%s\t%s\n", r.id, status, r.dir)
	}
	return nil
}
