package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/facette/natsort"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/camden-git/attendancebackend/services"
	"github.com/camden-git/attendancebackend/workers"
)

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <directory>",
	Short: "Enroll every photo in a directory",
	Long: `Enroll every photo in a directory. File names carry the identity as
<external_id>_<name>.<ext>, where underscores in the name become spaces,
e.g. S-1001_Ana_Lopez.jpg. The classifier is rebuilt once at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

func init() {
	rootCmd.AddCommand(enrollDirCmd)
	enrollDirCmd.Flags().Int("workers", 0, "Number of enrollment workers (default ENROLL_WORKERS)")
	enrollDirCmd.Flags().Bool("dry-run", false, "Only list what would be enrolled")
}

var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// parsePhotoName splits "<external_id>_<name>.<ext>" into its parts.
func parsePhotoName(filename string) (externalID, name string, ok bool) {
	ext := filepath.Ext(filename)
	if !photoExtensions[strings.ToLower(ext)] {
		return "", "", false
	}
	base := strings.TrimSuffix(filename, ext)
	externalID, rest, found := strings.Cut(base, "_")
	if !found || externalID == "" {
		return "", "", false
	}
	name = strings.Join(strings.Fields(strings.ReplaceAll(rest, "_", " ")), " ")
	if name == "" {
		return "", "", false
	}
	return externalID, name, true
}

type photoEntry struct {
	path       string
	externalID string
	name       string
}

func scanPhotoDir(dir string) ([]photoEntry, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var photos []photoEntry
	var skipped []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		externalID, name, ok := parsePhotoName(e.Name())
		if !ok {
			skipped = append(skipped, e.Name())
			continue
		}
		photos = append(photos, photoEntry{path: filepath.Join(dir, e.Name()), externalID: externalID, name: name})
	}
	sort.Slice(photos, func(i, j int) bool { return natsort.Compare(photos[i].path, photos[j].path) })
	return photos, skipped, nil
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	photos, skipped, err := scanPhotoDir(args[0])
	if err != nil {
		return err
	}
	for _, name := range skipped {
		fmt.Printf("Skipping %s: expected <external_id>_<name>.<ext>\n", name)
	}
	if len(photos) == 0 {
		fmt.Println("No photos to enroll")
		return nil
	}

	if mustGetBool(cmd, "dry-run") {
		for _, p := range photos {
			fmt.Printf("%s\t%s\t%s\n", p.externalID, p.name, p.path)
		}
		return nil
	}

	a, err := newApp(appOptions{detectors: true})
	if err != nil {
		return err
	}
	defer a.Close()

	numWorkers := mustGetInt(cmd, "workers")
	if numWorkers <= 0 {
		numWorkers = a.cfg.NumEnrollWorkers
	}

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var (
		mu       sync.Mutex
		enrolled int
		failures []string
	)
	pool := workers.NewEnrollmentPool(cmd.Context(), a.enrollment, func(r workers.EnrollResult) {
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.Job.Source, r.Err))
		} else {
			enrolled++
		}
		_ = bar.Add(1)
	}, a.cfg.EnrollQueueSize, numWorkers)

	for _, p := range photos {
		data, err := os.ReadFile(p.path)
		if err != nil {
			mu.Lock()
			failures = append(failures, fmt.Sprintf("%s: %v", p.path, err))
			mu.Unlock()
			_ = bar.Add(1)
			continue
		}
		job := workers.EnrollJob{
			Request: services.EnrollRequest{ExternalID: p.externalID, Name: p.name, Photo: data},
			Source:  p.path,
		}
		if !pool.QueueJobWait(job) {
			mu.Lock()
			failures = append(failures, fmt.Sprintf("%s: external id %s appears twice or enrollment was cancelled", p.path, p.externalID))
			mu.Unlock()
			_ = bar.Add(1)
		}
	}
	pool.Finish()
	_ = bar.Finish()

	fmt.Printf("\nEnrolled %d of %d photos\n", enrolled, len(photos))
	for _, f := range failures {
		fmt.Printf("  failed %s\n", f)
	}

	h, err := a.classifier.Retrain(cmd.Context())
	if err != nil {
		return fmt.Errorf("classifier rebuild failed: %w", err)
	}
	fmt.Printf("Classifier version %d trained on %d identities (%d skipped)\n", h.Version, h.Samples, h.Skipped)
	return nil
}
